// Package logging adapts libs/go/core/logging from the teacher monorepo:
// a single Init call wiring a slog.Logger, JSON or text depending on an
// environment variable, installed as the process-wide default.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger for component. JSON handler if
// SUPERVISOR_JSON_LOG is 1/true/json, text handler otherwise.
func Init(component string) *slog.Logger {
	mode := strings.ToLower(os.Getenv("SUPERVISOR_JSON_LOG"))
	var handler slog.Handler
	opts := &slog.HandlerOptions{AddSource: false, Level: levelFromEnv()}
	if mode == "1" || mode == "true" || mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler).With("component", component)
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Leveler {
	switch strings.ToLower(os.Getenv("SUPERVISOR_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
