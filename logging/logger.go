// Package logging provides a tiny abstraction over slog so the engine can
// depend on a minimal interface (Logger) while callers plug in any structured
// logger. It also offers a contextual EngineLogger carrying session / run /
// stage attributes and helpers for model-call and stage telemetry.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger is the minimal logging interface used throughout supportflow.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement Logger.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger { return &SlogAdapter{Logger: logger} }

// NewDefaultLogger creates a Logger from slog.Default().
func NewDefaultLogger() Logger { return NewSlogAdapter(slog.Default()) }

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NoOpLogger discards all log messages. Useful for tests.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// Config configures construction of an EngineLogger.
type Config struct {
	Level     slog.Level
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
}

// DefaultConfig returns a baseline JSON info-level configuration.
func DefaultConfig() *Config {
	return &Config{Level: slog.LevelInfo, Format: "json", Output: os.Stdout}
}

// EngineLogger wraps slog adding cheap contextual cloning (component,
// session, run) plus domain telemetry helpers. Copies share the underlying
// handler.
type EngineLogger struct {
	logger    *slog.Logger
	component string
	sessionID string
	runID     string
}

// New builds an EngineLogger from cfg (or defaults if nil).
func New(cfg *Config) *EngineLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	opts := &slog.HandlerOptions{Level: cfg.Level, AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &EngineLogger{logger: slog.New(handler)}
}

// WithComponent sets the logical component (engine, server, store, ...).
func (l *EngineLogger) WithComponent(c string) *EngineLogger {
	nl := *l
	nl.component = c
	return &nl
}

// WithSession attaches session and run identifiers.
func (l *EngineLogger) WithSession(sessionID, runID string) *EngineLogger {
	nl := *l
	nl.sessionID = sessionID
	nl.runID = runID
	return &nl
}

func (l *EngineLogger) attrs(extra []any) []any {
	out := make([]any, 0, len(extra)+6)
	if l.component != "" {
		out = append(out, "component", l.component)
	}
	if l.sessionID != "" {
		out = append(out, "session_id", l.sessionID)
	}
	if l.runID != "" {
		out = append(out, "run_id", l.runID)
	}
	return append(out, extra...)
}

// Debug logs at debug level.
func (l *EngineLogger) Debug(msg string, args ...any) {
	l.logger.Debug(msg, l.attrs(args)...)
}

// Info logs at info level.
func (l *EngineLogger) Info(msg string, args ...any) {
	l.logger.Info(msg, l.attrs(args)...)
}

// Warn logs at warn level.
func (l *EngineLogger) Warn(msg string, args ...any) {
	l.logger.Warn(msg, l.attrs(args)...)
}

// Error logs at error level.
func (l *EngineLogger) Error(msg string, args ...any) {
	l.logger.Error(msg, l.attrs(args)...)
}

// LogModelCall records model call latency and outcome.
func (l *EngineLogger) LogModelCall(model string, dur time.Duration, success bool, err error) {
	args := l.attrs([]any{"model", model, "duration", dur, "success", success})
	level := slog.LevelInfo
	msg := "model call completed"
	if !success {
		level = slog.LevelError
		msg = "model call failed"
		if err != nil {
			args = append(args, "error", err.Error())
		}
	}
	l.logger.Log(context.Background(), level, msg, args...)
}

// LogStage records a pipeline stage completion.
func (l *EngineLogger) LogStage(stage string, dur time.Duration, err error) {
	args := l.attrs([]any{"stage", stage, "duration", dur})
	if err != nil {
		args = append(args, "error", err.Error())
		l.logger.Warn("stage failed", args...)
		return
	}
	l.logger.Info("stage completed", args...)
}
