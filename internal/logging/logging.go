// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used across the dpicore
// module. It wraps charmbracelet/log so that both the library-style
// key/value calls used by the flow table and the printf-style calls used by
// the dissectors share one sink.
package logging

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	charmlog "github.com/charmbracelet/log"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      string // debug, info, warn, error
	JSON       bool
	Output     io.Writer
	ReportTime bool
}

// DefaultConfig returns the logging defaults: info level, text formatter,
// writing to stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		JSON:       false,
		Output:     os.Stderr,
		ReportTime: true,
	}
}

// Logger is a thin, structured wrapper over charmbracelet/log.Logger.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from the given Config.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := charmlog.Options{
		ReportTimestamp: cfg.ReportTime,
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}

	l := charmlog.NewWithOptions(out, opts)
	l.SetLevel(parseLevel(cfg.Level))

	return &Logger{inner: l}
}

func parseLevel(level string) charmlog.Level {
	switch level {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// With returns a derived Logger carrying the given key/value pairs on every
// subsequent line.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{inner: l.inner.With(kv...)}
}

func (l *Logger) Debug(msg string, kv ...any) { l.inner.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.inner.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.inner.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.inner.Error(msg, kv...) }

// defaultLogger backs the package-level Debug/Info/Warn/Error helpers used
// throughout the dissectors, where a printf-style call is more natural than
// threading a *Logger through every function.
var defaultLogger atomic.Pointer[Logger]
var defaultOnce sync.Once

func def() *Logger {
	defaultOnce.Do(func() {
		defaultLogger.Store(New(DefaultConfig()))
	})
	return defaultLogger.Load()
}

// SetDefault replaces the package-level logger used by Debug/Info/Warn/Error.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

func Debug(format string, args ...any) { def().inner.Debugf(format, args...) }
func Info(format string, args ...any)  { def().inner.Infof(format, args...) }
func Warn(format string, args ...any)  { def().inner.Warnf(format, args...) }
func Error(format string, args ...any) { def().inner.Errorf(format, args...) }
