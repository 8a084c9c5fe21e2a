package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the process-wide JSON logger. Every line carries the service
// name so the defense-layer events stay attributable once logs are shipped
// somewhere shared.
func New(level, service string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})
	logger := slog.New(h)
	if service != "" {
		logger = logger.With("service", service)
	}
	return logger
}

// MaskIdentifier hides the middle of an email or similar identifier so audit
// logs stay useful without spelling out the whole thing.
func MaskIdentifier(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if len(id) <= 8 {
		return "***"
	}
	return id[:3] + "***" + id[len(id)-3:]
}
