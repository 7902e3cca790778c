// Package logging configures the process's structured logger, in the
// style of the retrieval pack's own slog-based logger configuration: a
// small Config struct plus an Init that installs a handler as the process
// default. The CLI installs it at startup; the compiler passes themselves
// emit no log records.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the slog handler implementation.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Config tunes the logger the way the rest of the ambient stack expects
// to configure it: a level, an output format, a destination, and
// whether to annotate records with source location.
type Config struct {
	Level     slog.Level
	Format    Format
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns the configuration used when the CLI is invoked
// without explicit logging flags: info level, text format, stderr.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: FormatText,
		Output: os.Stderr,
	}
}

// Init builds a *slog.Logger from cfg and installs it as the process
// default, returning it for callers that want to hold their own
// reference.
func Init(cfg Config) *slog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(cfg.Output, opts)
	default:
		handler = slog.NewTextHandler(cfg.Output, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
