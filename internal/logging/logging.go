// Package logging provides structured logging infrastructure for EWE.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/justakazh/ewe/internal/config"
)

// NewFromConfig creates a new slog.Logger based on configuration.
// Records go to console (pass io.Discard while the terminal is owned by the
// live view) and, when logging.file is set, are appended to that file.
// Relative file paths resolve against baseDir.
func NewFromConfig(cfg *config.Config, baseDir string, console io.Writer) (*slog.Logger, io.Closer, error) {
	level := parseLevel(cfg.Logging.Level)
	if console == nil {
		console = os.Stderr
	}

	if cfg.Logging.File == "" {
		return slog.New(newHandler(cfg.Logging.Format, console, level)), nil, nil
	}

	logPath := cfg.Logging.File
	if !filepath.IsAbs(logPath) {
		logPath = filepath.Join(baseDir, logPath)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, nil, err
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}

	multi := io.MultiWriter(console, file)
	return slog.New(newHandler(cfg.Logging.Format, multi, level)), file, nil
}

// NewDefault creates a default logger writing to stderr.
func NewDefault() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// NewForTest creates a silent logger for tests.
func NewForTest() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// parseLevel converts config log level to slog.Level.
func parseLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelInfo:
		return slog.LevelInfo
	case config.LogLevelWarn:
		return slog.LevelWarn
	case config.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newHandler creates a slog.Handler based on format.
func newHandler(format config.LogFormat, w io.Writer, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	switch format {
	case config.LogFormatJSON:
		return slog.NewJSONHandler(w, opts)
	case config.LogFormatText:
		return slog.NewTextHandler(w, opts)
	default:
		return slog.NewJSONHandler(w, opts)
	}
}

// WithRun returns a logger with run context.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithTask returns a logger with task context.
func WithTask(logger *slog.Logger, taskID int, taskName string) *slog.Logger {
	return logger.With("task_id", taskID, "task", taskName)
}
