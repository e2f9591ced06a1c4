// Package logging builds the process-wide zerolog.Logger mantis threads
// into every long-lived component constructor, grounded on
// other_examples/manifests/ManuGH-xg2g's console-in-dev / JSON-in-prod
// convention.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// Options controls the process-wide logger.
type Options struct {
	// Level is one of zerolog's level strings ("debug", "info", "warn",
	// "error"). Empty means "info".
	Level string
	// Pretty selects the human-readable console writer instead of raw
	// JSON lines. Intended for local development, not production.
	Pretty bool
}

// New builds the process-wide logger.
func New(opts Options) zerolog.Logger {
	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	if opts.Pretty {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(writer).Level(level).With().Timestamp().Logger()
	}

	return zerolog.New(os.Stdout).Level(level).With().Timestamp().Str("service", "mantis").Logger()
}
