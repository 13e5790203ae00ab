// Package slogx builds the process-wide structured logger and threads
// request-scoped loggers through contexts.
package slogx

import (
	"log/slog"
	"os"
	"strings"

	"github.com/taskboard/trustd/pkg/idx"
)

// Config selects the handler and the base attributes stamped on every record.
type Config struct {
	Service string
	Version string
	Env     string // "dev", "staging", "prod"
	Level   string // "debug", "info", "warn", "error"
	Format  string // "json" (default) or "text"
}

// New builds the service logger and installs it as the slog default, so code
// running outside a request context still logs through the same handler.
// Source locations are attached in dev only.
func New(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     levelFor(cfg.Level),
		AddSource: cfg.Env == "dev",
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(
		slog.String("service", cfg.Service),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Env),
	)
	slog.SetDefault(logger)
	return logger
}

func levelFor(level string) slog.Level {
	switch strings.ToLower(level) {
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

// requestID returns the caller-supplied request id, or mints one.
func requestID(headerValue string) string {
	if headerValue != "" {
		return headerValue
	}
	return idx.New().String()
}
