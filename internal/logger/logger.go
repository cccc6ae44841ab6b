// Package logger builds the slog loggers used by the depbox commands.
package logger

import (
	"errors"
	"io"
	"log/slog"
	"strings"
)

// TimestampKey replaces slog's default "time" key.
const TimestampKey = "timestamp"

// New sets up the slog logger writing to w with level and format from
// arguments and installs it as the default logger. Commands pass their
// error writer so stdout stays free for command output.
// logLevel: "info", "debug", "warn", "error"
// logFormat: "json" or "text"
func New(w io.Writer, logLevel, logFormat string) (*slog.Logger, error) {
	if strings.TrimSpace(logLevel) == "" || strings.TrimSpace(logFormat) == "" {
		return nil, errors.New("logLevel and logFormat must not be empty")
	}
	level, ok := parseLevel(logLevel)
	if !ok {
		return nil, errors.New("invalid logLevel: " + logLevel)
	}

	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: renameTime}

	var handler slog.Handler
	switch strings.ToLower(logFormat) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, errors.New("invalid logFormat: " + logFormat)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func parseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

func renameTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{Key: TimestampKey, Value: a.Value}
	}
	return a
}
