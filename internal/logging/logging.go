// Package logging configures the process-wide zerolog logger used across the
// retrieval core. Every subsystem logs through a child logger carrying its
// component name rather than importing "log" directly.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Level is one of "debug", "info", "warn", "error". Defaults to "info".
	Level string
	// Pretty enables the human-readable console writer instead of JSON,
	// for local development.
	Pretty bool
	Output io.Writer
}

// New builds the root logger. Call once at process startup; every package
// derives its own sub-logger from the result via .With().Str("component", ...).
func New(opts Options) zerolog.Logger {
	level := parseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with the given component name,
// the convention used everywhere a package needs to log (scoping, graph,
// retrieval, ingestion, httpapi, llm).
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
