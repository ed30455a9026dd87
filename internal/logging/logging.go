// Package logging constructs the structured logger every other package
// in this repository accepts through its constructor rather than
// reaching for a package-level global.
package logging

import (
	"log/slog"
	"os"
)

// Options controls the logger's output format and verbosity.
type Options struct {
	Level  slog.Level
	JSON   bool
	Output *os.File
}

// DefaultOptions returns text-formatted, info-level logging to stderr.
func DefaultOptions() Options {
	return Options{Level: slog.LevelInfo, Output: os.Stderr}
}

// New builds a *slog.Logger from opts.
func New(opts Options) *slog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(output, handlerOpts)
	} else {
		handler = slog.NewTextHandler(output, handlerOpts)
	}
	return slog.New(handler)
}
