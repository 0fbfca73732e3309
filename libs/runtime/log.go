package runtime

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger returns the service logger. Output is JSON unless LOG_FORMAT=text,
// which switches to a colourised handler for local runs.
func NewLogger(service string) *slog.Logger {
	level := ParseLevel(Getenv("LOG_LEVEL", "info"))
	var h slog.Handler
	if strings.EqualFold(Getenv("LOG_FORMAT", "json"), "text") {
		h = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
	} else {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(h).With("service", service)
}

func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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
