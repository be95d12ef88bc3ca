package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// NewLogger builds a slog logger from cfg. An unopenable output file falls
// back to stdout.
func NewLogger(cfg LogConfig) *slog.Logger {
	var w io.Writer
	switch cfg.Output {
	case "", "stdout":
		w = os.Stdout
	case "stderr":
		w = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			w = os.Stdout
		} else {
			w = f
		}
	}
	return newLogger(w, cfg)
}

func newLogger(w io.Writer, cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(h)
}

func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LoadEnvFile loads path (default .env) into the process environment without
// overriding variables that are already set. It reports whether a file was read.
func LoadEnvFile(logger *slog.Logger, path string) bool {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("no .env file found", "path", path)
		return false
	}
	if err := godotenv.Load(path); err != nil {
		logger.Warn("failed to load .env file", "path", path, "err", err)
		return false
	}
	logger.Debug("loaded .env file", "path", path)
	return true
}
