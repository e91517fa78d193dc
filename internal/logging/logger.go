// Package logging builds the structured logger used across vmxfer.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

// TimeFormat is the console timestamp layout.
const TimeFormat = "15:04:05"

// Options selects where and how much to log.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Empty means info.
	Level string

	// Verbose forces debug level.
	Verbose bool

	// JSON writes raw JSON lines instead of the console format.
	JSON bool

	// Out defaults to stderr; stdout is reserved for command output.
	Out io.Writer
}

// New creates a logger.
func New(opts Options) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", opts.Level, err)
		}
		level = parsed
	}
	if opts.Verbose {
		level = zerolog.DebugLevel
	}

	out := opts.Out
	if out == nil {
		out = os.Stderr
	}
	if !opts.JSON {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: TimeFormat}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
