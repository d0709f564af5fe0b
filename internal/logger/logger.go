package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a new zerolog logger with the specified level and format.
func New(level, format string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string) zerolog.Logger {
	output := w

	// Use pretty printing for console format
	if format == "console" || format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}

	// Parse log level
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Str("service", "prosody").
		Logger()
}

// NewNop creates a no-op logger for testing.
func NewNop() zerolog.Logger {
	return zerolog.Nop()
}
