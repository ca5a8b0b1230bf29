package observability

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZeroLogger adapts zerolog to the Logger interface used across the core.
type ZeroLogger struct {
	l zerolog.Logger
}

// NewLogger builds a zerolog-backed logger. The level is taken from the
// LOG_LEVEL environment variable and defaults to info.
func NewLogger() *ZeroLogger {
	l := zerolog.New(os.Stderr).
		Level(parseLogLevel(os.Getenv("LOG_LEVEL"))).
		With().Timestamp().Logger()
	return &ZeroLogger{l: l}
}

// NewLoggerWith wraps an existing zerolog logger.
func NewLoggerWith(l zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{l: l}
}

func parseLogLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug message.
func (z *ZeroLogger) Debug(msg string, args ...any) { emit(z.l.Debug(), msg, args) }

// Info logs an info message.
func (z *ZeroLogger) Info(msg string, args ...any) { emit(z.l.Info(), msg, args) }

// Warn logs a warning message.
func (z *ZeroLogger) Warn(msg string, args ...any) { emit(z.l.Warn(), msg, args) }

// Error logs an error message.
func (z *ZeroLogger) Error(msg string, args ...any) { emit(z.l.Error(), msg, args) }

func emit(ev *zerolog.Event, msg string, args []any) {
	for i := 0; i+1 < len(args); i += 2 {
		ev = ev.Interface(fmt.Sprint(args[i]), args[i+1])
	}
	ev.Msg(msg)
}
