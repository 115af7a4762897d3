// Package logger provides structured logging for the acp-traces interceptor.
// It uses Go's log/slog package with text output (JSON when Config.JSON is
// set) and optional file rotation via lumberjack. Logging only ever goes to stderr/a log file: the interceptor's
// stdout is the forwarded ACP byte stream (§6.2), so nothing here may write
// to it.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logger configuration options.
type Config struct {
	// LogDir is the directory where log files are stored.
	// If empty, only stderr logging is enabled.
	LogDir string

	// Verbosity is the repeated -v/--verbose count from the CLI (§6.1).
	// 0 is Info, 1 is Debug, 2+ also enables source locations.
	Verbosity int

	// JSON enables JSON output format. If false, text format is used.
	JSON bool

	// Component is an optional component name to add to all log entries.
	Component string
}

func levelFor(verbosity int) slog.Level {
	if verbosity >= 1 {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// Init initializes the global slog logger with the given configuration.
// It writes to both stderr and a rotating log file (if LogDir is specified).
func Init(cfg Config) error {
	level := levelFor(cfg.Verbosity)

	var writer io.Writer = os.Stderr

	// Add file logging with rotation if LogDir is specified
	if cfg.LogDir != "" {
		// Ensure log directory exists
		if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
			return err
		}

		logFile := &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "acp-traces.log"),
			MaxSize:    50,   // megabytes
			MaxBackups: 3,    // number of old files to keep
			MaxAge:     14,   // days
			Compress:   true, // compress rotated files
		}

		// Write to both stderr and file
		writer = io.MultiWriter(os.Stderr, logFile)
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Verbosity >= 2,
	}

	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	// Add component attribute if specified
	logger := slog.New(handler)
	if cfg.Component != "" {
		logger = logger.With("component", cfg.Component)
	}

	slog.SetDefault(logger)
	return nil
}

// With returns a new logger with the given attributes added to all log entries.
func With(args ...any) *slog.Logger {
	return slog.Default().With(args...)
}

// WithComponent returns a new logger with a component attribute.
func WithComponent(component string) *slog.Logger {
	return slog.Default().With("component", component)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs at error level and exits with status code 1.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}
