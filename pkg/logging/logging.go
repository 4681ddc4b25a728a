// Package logging implements the tunnel engine's diagnostic sink: a
// per-tunnel callback invoked with a severity level and a message whose
// ownership passes to the callback side. Logging never blocks protocol
// progress and never fails outward; a missing or panicking callback is
// silently tolerated.
package logging

import "fmt"

// Level is the severity of a diagnostic event.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int8(l))
	}
}

// Callback receives diagnostic events. The callback owns msg and must
// release it with FreeMessage exactly once.
type Callback func(ctx interface{}, level Level, msg *Message)

// Sink routes engine diagnostics to a caller-supplied callback. The zero
// value discards everything below LevelInfo and has no callback. A Sink is
// referenced, never owned, by the tunnel that logs through it.
type Sink struct {
	cb  Callback
	ctx interface{}
	min Level
}

// NewSink returns a sink delivering events at or above min.
func NewSink(min Level) *Sink {
	return &Sink{min: min}
}

// Set replaces the configured callback and its context. A nil callback
// disables delivery.
func (s *Sink) Set(cb Callback, ctx interface{}) {
	s.cb = cb
	s.ctx = ctx
}

// Enabled reports whether events at level would be delivered.
func (s *Sink) Enabled(level Level) bool {
	return s.cb != nil && level >= s.min
}

// Emit formats and delivers one diagnostic event. Ownership of the message
// transfers to the callback.
func (s *Sink) Emit(level Level, format string, args ...interface{}) {
	if !s.Enabled(level) {
		return
	}

	msg := newMessage(fmt.Sprintf(format, args...))

	defer func() {
		// A panicking logger must not take the protocol engine with it.
		if recover() != nil {
			FreeMessage(msg)
		}
	}()

	s.cb(s.ctx, level, msg)
}
