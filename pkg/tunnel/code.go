package tunnel

import (
	"errors"

	"github.com/openturion/turion/pkg/models"
)

// Code is the stable result vocabulary exposed to host applications. Every
// operation's outcome maps onto exactly one code; foreign-callable adapters
// translate these to the vendor ABI's integer results.
type Code int

const (
	CodeSuccess Code = iota
	CodeWouldBlock
	CodeInvalidURL
	CodeConnectError
	CodeAuthError
	CodeProtocolError
	CodeConnectionLost
	CodeUnsupportedStream
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeWouldBlock:
		return "would_block"
	case CodeInvalidURL:
		return "invalid_url"
	case CodeConnectError:
		return "connect_error"
	case CodeAuthError:
		return "auth_error"
	case CodeProtocolError:
		return "protocol_error"
	case CodeConnectionLost:
		return "connection_lost"
	case CodeUnsupportedStream:
		return "unsupported_stream"
	default:
		return "unknown"
	}
}

// CodeOf maps any error returned by a tunnel operation onto the result
// vocabulary. A nil error is CodeSuccess; ErrWouldBlock is CodeWouldBlock
// and carries no failure semantics.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrWouldBlock):
		return CodeWouldBlock
	case errors.Is(err, models.ErrInvalidSchema), errors.Is(err, models.ErrInvalidURL):
		return CodeInvalidURL
	}

	var terr *Error
	if errors.As(err, &terr) {
		return terr.Kind
	}

	return CodeConnectError
}
