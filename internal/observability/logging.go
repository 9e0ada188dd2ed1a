// Package observability binds the filer's logging, metrics, tracing and
// error-tracking hooks to slog, Prometheus and OpenTelemetry.
package observability

import (
	"io"
	"log/slog"
	"strings"
)

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewLogger returns a JSON logger tagged with the service id.
func NewLogger(w io.Writer, level, serviceID string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(handler).With("service", serviceID)
}
