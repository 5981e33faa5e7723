// Package logging builds the process-wide slog logger from the environment.
//
// SERGEANT_LOG_LEVEL selects the minimum level (debug, info, warn, error;
// default info). SERGEANT_LOG_FILE, when set, routes logs to a rotating file
// instead of stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	envLevel = "SERGEANT_LOG_LEVEL"
	envFile  = "SERGEANT_LOG_FILE"

	// rotation policy for the file sink
	maxSizeMB  = 50
	maxBackups = 5
	maxAgeDays = 14
)

// NewFromEnv returns a logger configured from the environment.
// The file sink is not opened here, so the returned error is always nil;
// problems with the log file are not reported by this call.
func NewFromEnv() (*slog.Logger, error) {
	level := parseLevel(os.Getenv(envLevel))

	if path := os.Getenv(envFile); path != "" {
		sink := &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
			Compress:   true,
		}
		return New(level, sink), nil
	}

	return New(level, os.Stderr), nil
}

// New returns a text logger writing to w at the given level.
func New(level slog.Level, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
