package deploykit

import (
	"io"
	"log/slog"
	"strings"
)

// Logger defines the interface for framework logging.
// The framework uses structured logging with key-value pairs so that
// lifecycle output (starts, stops, recorder warnings, effector failures)
// is consistent and parseable across entities.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("Started application", "application", app.DisplayName(), "id", app.ID())
//
// This is compatible with slog, logrus, zap and similar libraries.
// NewSlogLogger adapts a *slog.Logger.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Best-effort failures (for instance usage recording) are reported here.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger adapts a *slog.Logger to the Logger interface.
func NewSlogLogger(logger *slog.Logger) Logger {
	return &slogLogger{logger: logger}
}

// NewTextLogger returns a Logger writing slog text output at the named level
// ("debug", "info", "warn" or "error"; anything else means info).
func NewTextLogger(w io.Writer, level string) Logger {
	return NewSlogLogger(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// valueInjectionLogger automatically injects key-value pairs into all log events.
// Entities use it so every line they emit carries the entity identity.
type valueInjectionLogger struct {
	inner        Logger
	injectedArgs []any
}

// WithLoggerValues returns a logger that prepends injectedArgs to the
// key-value pairs of every call.
func WithLoggerValues(inner Logger, injectedArgs ...any) Logger {
	if inner == nil {
		inner = nopLogger{}
	}
	return &valueInjectionLogger{inner: inner, injectedArgs: injectedArgs}
}

func (d *valueInjectionLogger) combineArgs(originalArgs []any) []any {
	if len(d.injectedArgs) == 0 {
		return originalArgs
	}
	if len(originalArgs) == 0 {
		return d.injectedArgs
	}
	combined := make([]any, 0, len(d.injectedArgs)+len(originalArgs))
	combined = append(combined, d.injectedArgs...)
	combined = append(combined, originalArgs...)
	return combined
}

func (d *valueInjectionLogger) Info(msg string, args ...any) {
	d.inner.Info(msg, d.combineArgs(args)...)
}

func (d *valueInjectionLogger) Error(msg string, args ...any) {
	d.inner.Error(msg, d.combineArgs(args)...)
}

func (d *valueInjectionLogger) Warn(msg string, args ...any) {
	d.inner.Warn(msg, d.combineArgs(args)...)
}

func (d *valueInjectionLogger) Debug(msg string, args ...any) {
	d.inner.Debug(msg, d.combineArgs(args)...)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
