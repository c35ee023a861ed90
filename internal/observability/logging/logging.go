// Package logging holds the process-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the process logger. It discards output until Init runs.
var Logger = zerolog.Nop()

// Init configures Logger. Unknown levels fall back to info; ENV=development
// switches to the human readable console writer.
func Init(level string) {
	Logger = New(os.Stdout, level, os.Getenv("ENV") == "development")
	Logger.Info().Str("level", zerolog.GlobalLevel().String()).Msg("logger initialized")
}

// New builds a logger writing to out.
func New(out io.Writer, level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
