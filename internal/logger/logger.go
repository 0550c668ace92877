// Package logger builds the slog loggers used by the leakcheck tools.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the logger configuration.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	AddSource bool
	Writer    io.Writer
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  slog.LevelInfo,
		Format: "text",
		Writer: os.Stderr,
	}
}

// LoadConfig reads LEAKCHECK_LOG_LEVEL, LEAKCHECK_LOG_FORMAT and
// LEAKCHECK_LOG_SOURCE on top of the defaults.
func LoadConfig() Config {
	return loadConfig(os.Getenv)
}

func loadConfig(getenv func(string) string) Config {
	cfg := DefaultConfig()

	if levelStr := getenv("LEAKCHECK_LOG_LEVEL"); levelStr != "" {
		if level, ok := ParseLevel(levelStr); ok {
			cfg.Level = level
		}
	}
	if format := strings.ToLower(getenv("LEAKCHECK_LOG_FORMAT")); format == "text" || format == "json" {
		cfg.Format = format
	}
	if s := getenv("LEAKCHECK_LOG_SOURCE"); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			cfg.AddSource = v
		}
	}
	return cfg
}

// ParseLevel accepts debug, info, warn, error in any case, or a numeric
// slog level.
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, true
	case "INFO":
		return slog.LevelInfo, true
	case "WARN", "WARNING":
		return slog.LevelWarn, true
	case "ERROR":
		return slog.LevelError, true
	}
	if n, err := strconv.Atoi(s); err == nil {
		return slog.Level(n), true
	}
	return 0, false
}

// New creates a logger with the given configuration.
func New(cfg Config) *slog.Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{
		Level:     cfg.Level,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
