// Package telemetry provides structured logging setup, process metrics and
// latency stats aggregation.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// SetupLogging installs the process-wide slog handler. Verbosity accepts
// debug, info, warn or error; anything else falls back to info. Format is
// "json" for machine consumption or anything else for text.
func SetupLogging(verbosity, format string) {
	level := slog.LevelInfo
	switch strings.ToLower(verbosity) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
