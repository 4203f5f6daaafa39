// Package logging configures the process logger: JSON structured output
// through log/slog, optional size-rotated file logging, and the mapping
// from the log-level config key onto slog levels.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/Aman-CERP/kvsearch/internal/config"
)

// Config contains logging configuration.
type Config struct {
	// Level is warning, notice, verbose or debug; empty reads the
	// log-level config key.
	Level string
	// FilePath enables file logging when non-empty.
	FilePath string
	// MaxSizeMB is the rotation threshold (default 10).
	MaxSizeMB int
	// MaxFiles bounds the rotated files kept (default 5).
	MaxFiles int
	// WriteToStderr mirrors output to stderr.
	WriteToStderr bool
}

// DefaultConfig logs to stderr only at the configured level.
func DefaultConfig() Config {
	return Config{MaxSizeMB: 10, MaxFiles: 5, WriteToStderr: true}
}

// Setup initializes logging and returns the logger plus a cleanup
// function closing any open log file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var out io.Writer = os.Stderr
	cleanup := func() {}

	if cfg.FilePath != "" {
		writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		if cfg.WriteToStderr {
			out = io.MultiWriter(writer, os.Stderr)
		} else {
			out = writer
		}
		cleanup = func() { _ = writer.Close() }
	}

	level := cfg.Level
	if level == "" {
		level = config.LogLevel.Get()
	}
	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler), cleanup, nil
}

// SetupDefault installs the default logger process-wide.
func SetupDefault() (func(), error) {
	logger, cleanup, err := Setup(DefaultConfig())
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return cleanup, nil
}

// parseLevel maps the module's level names onto slog levels. notice sits
// between verbose and warning, matching the host's level ladder.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "verbose":
		return slog.LevelInfo
	case "notice":
		return slog.LevelInfo + 2
	case "warning":
		return slog.LevelWarn
	default:
		return slog.LevelInfo + 2
	}
}
