package tunnel

import (
	"github.com/openturion/turion/pkg/models"
	"github.com/openturion/turion/pkg/transport"
)

//go:generate mockgen -source=interfaces.go -destination=mock_session_test.go -package=tunnel

// Session is the non-blocking byte pipe the state machine drives. It is
// satisfied by *transport.Session; tests substitute a mock.
type Session interface {
	TrySend(p []byte) error
	TryReceive() ([]byte, error)
	Flush() error
	Close() error
}

// DialFunc establishes a session to a target. The default wraps
// transport.Connect.
type DialFunc func(target *models.Target, opts *transport.Options) (Session, error)

func defaultDial(target *models.Target, opts *transport.Options) (Session, error) {
	return transport.Connect(target, opts)
}
