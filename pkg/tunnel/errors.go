package tunnel

import (
	"fmt"

	"github.com/openturion/turion/pkg/transport"
)

// ErrWouldBlock reports that an operation has not completed yet and must be
// retried by the caller. It is the transport sentinel re-exported at the
// facade so hosts depend on a single package.
var ErrWouldBlock = transport.ErrWouldBlock

// Error is a terminal operation failure carrying its stable kind. Terminal
// for the current operation; whether the tunnel survives depends on the kind
// (input errors leave it usable, transport and protocol errors do not).
type Error struct {
	Kind  Code
	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("tunnel: %s: %s: %v", e.Kind, e.msg, e.cause)
	}

	return fmt.Sprintf("tunnel: %s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(kind Code, cause error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:  kind,
		msg:   fmt.Sprintf(format, args...),
		cause: cause,
	}
}
