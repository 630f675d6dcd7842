package util

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LogConfig selects the level and format of the internal trace log.
type LogConfig struct {
	Level     string // debug, info, warn or error
	Format    string // text or json
	AddSource bool
}

// NewLogger builds a slog logger writing to w.
func NewLogger(cfg LogConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "", "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level '%s'", cfg.Level)
	}

	opts := &slog.HandlerOptions{Level: level, AddSource: cfg.AddSource}
	switch cfg.Format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format '%s'", cfg.Format)
}
