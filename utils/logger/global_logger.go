package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is the process-wide logger. main configures it; tests fall back to
// the handler installed here so package code never sees a nil logger.
var Logger *slog.Logger

func init() {
	if Logger == nil {
		Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{}))
	}
}

// Init builds the global logger from the environment and returns it.
// LOG_LEVEL selects the level (debug, info, warn, error), LOG_FORMAT
// selects text or json output, LOG_DEBUG=true forces debug.
func Init() *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	Logger = slog.New(NewHandler(os.Stderr, opts))
	return Logger
}

func levelFromEnv() slog.Level {
	// UTIL_LOG_DEBUG is the legacy spelling of LOG_DEBUG.
	if os.Getenv("LOG_DEBUG") == "true" || os.Getenv("UTIL_LOG_DEBUG") == "true" {
		return slog.LevelDebug
	}
	return parseLevel(os.Getenv("LOG_LEVEL"))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// NewHandler builds a handler on w in the format LOG_FORMAT selects
// (LOGGER_FORMAT is the legacy spelling), so task buffers emit the same
// format as the global logger.
func NewHandler(w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = os.Getenv("LOGGER_FORMAT")
	}
	if strings.ToLower(format) == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
