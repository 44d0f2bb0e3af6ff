package logger

import (
	"log/slog"
	"os"
)

// New returns a structured JSON logger using slog.
// Debug level is enabled outside production.
func New(environment string) *slog.Logger {
	level := slog.LevelInfo
	if environment != "production" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With("service", "once")
}
