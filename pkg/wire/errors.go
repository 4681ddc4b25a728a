package wire

import (
	"errors"
	"fmt"
)

// ErrNeedMore reports that the decode buffer holds only a partial frame.
// Callers feed more bytes and retry; it is the codec-level face of the
// engine's would-block contract.
var ErrNeedMore = errors.New("wire: need more bytes")

// ProtocolError reports malformed or out-of-protocol bytes. The tunnel
// treats it as fatal for the current connection; no partial recovery is
// attempted.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wire: protocol error: %s", e.Reason)
}

func protocolErrorf(format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}
