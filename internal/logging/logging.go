package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide slog.Logger. Format "json" selects the JSON
// handler for log aggregation; anything else falls back to text.
func New(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: Level(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// NewLogger returns a text logger at the given level.
func NewLogger(level string) *slog.Logger {
	return New(level, "text")
}

// Level maps a config string onto an slog level, defaulting to info.
func Level(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
