// Package logging builds the zerolog logger shared by all components.
// Components receive sub-loggers by injection rather than through a
// package-level global, so tests can capture or silence output per case.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values fall back
	// to info.
	Level string `koanf:"level"`
	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// New returns a logger writing to w, or stderr when w is nil.
func New(cfg Config, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// Nop returns a disabled logger for tests and optional components.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
