package transport

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrWouldBlock reports that a non-blocking operation made no forward
	// progress yet. It is never a failure; callers retry at their own
	// cadence.
	ErrWouldBlock = errors.New("transport: operation would block")

	// ErrSessionClosed reports use of a session after Close.
	ErrSessionClosed = errors.New("transport: session closed")

	// Connection failures are surfaced as distinct kinds so the tunnel
	// state machine can log and classify them separately.
	ErrConnectionRefused = errors.New("transport: connection refused")
	ErrConnectionReset   = errors.New("transport: connection reset by peer")
	ErrConnectionTimeout = errors.New("transport: connection timed out")
	ErrPeerClosed        = errors.New("transport: connection closed by peer")
)

// classifyDialError maps a dial or TLS handshake failure to a stable kind,
// keeping the original error in the chain.
func classifyDialError(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return wrap(ErrConnectionRefused, err)
	case errors.Is(err, syscall.ECONNRESET):
		return wrap(ErrConnectionReset, err)
	case isTimeout(err):
		return wrap(ErrConnectionTimeout, err)
	default:
		return err
	}
}

// classifyIOError maps a read/write failure on an established session.
func classifyIOError(err error) error {
	switch {
	case errors.Is(err, io.EOF):
		return wrap(ErrPeerClosed, err)
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return wrap(ErrConnectionReset, err)
	case errors.Is(err, net.ErrClosed):
		return wrap(ErrSessionClosed, err)
	default:
		return err
	}
}

func isTimeout(err error) bool {
	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

// wrappedError preserves both the stable kind and the underlying cause.
type wrappedError struct {
	kind  error
	cause error
}

func wrap(kind, cause error) error {
	return &wrappedError{kind: kind, cause: cause}
}

func (e *wrappedError) Error() string {
	return e.kind.Error() + ": " + e.cause.Error()
}

func (e *wrappedError) Is(target error) bool {
	return errors.Is(e.kind, target)
}

func (e *wrappedError) Unwrap() error {
	return e.cause
}
