package logging

import "github.com/rs/zerolog"

// NewZerologCallback bridges engine diagnostics into a zerolog logger. The
// returned callback frees each message itself, so it satisfies the ownership
// contract on behalf of the caller that installs it.
func NewZerologCallback(logger zerolog.Logger) Callback {
	return func(_ interface{}, level Level, msg *Message) {
		defer FreeMessage(msg)

		logger.WithLevel(zerologLevel(level)).Msg(msg.String())
	}
}

func zerologLevel(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
