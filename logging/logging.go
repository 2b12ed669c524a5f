// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Formats accepted by New.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
	FormatPretty  = "pretty"
)

// Config selects the logger's level and output format.
type Config struct {
	Level  string
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// New returns a zerolog.Logger writing to cfg.Output. An unknown level falls
// back to info.
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	switch strings.ToLower(cfg.Format) {
	case FormatConsole, FormatPretty:
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "govbr-login").
		Logger()
}
