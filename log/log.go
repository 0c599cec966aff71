// Package log installs the process-wide slog default. Everything in the
// backend logs through slog, so this runs before any other component starts.
package log

import (
	"log/slog"
	"os"

	"github.com/kontorhq/kontor-backend/config"
)

// Configure builds a handler for the configured format and level and makes
// it the slog default. Logs go to stderr, stdout stays free for command
// output.
func Configure(cfg config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Debug("logging configured", "level", cfg.Level.String(), "format", cfg.Format)
	return logger
}
