// Package logging provides the minimal structured logger interface shared
// across novacore's packages, plus a slog-backed implementation.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger is the logging surface every novacore package depends on.
// Callers that don't care about logs use NoopLogger.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// NoopLogger discards everything.
type NoopLogger struct{}

func (NoopLogger) Debug(string, ...any) {}
func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}

// OrNop returns l, or a NoopLogger if l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}

// slogLogger adapts log/slog to Logger, tagging every record with a
// "component" attribute the way utils.NewComponentLogger did in the teacher repo.
type slogLogger struct {
	component string
	base      *slog.Logger
}

// New returns a Logger backed by log/slog, tagged with component.
func New(component string) Logger {
	return &slogLogger{component: component, base: slog.Default()}
}

// NewWithHandler builds a Logger around a caller-supplied slog.Handler,
// useful for tests that want to assert on emitted records.
func NewWithHandler(component string, h slog.Handler) Logger {
	return &slogLogger{component: component, base: slog.New(h)}
}

func (l *slogLogger) Debug(format string, args ...any) {
	l.base.Debug(l.msg(format, args...), "component", l.component)
}

func (l *slogLogger) Info(format string, args ...any) {
	l.base.Info(l.msg(format, args...), "component", l.component)
}

func (l *slogLogger) Warn(format string, args ...any) {
	l.base.Warn(l.msg(format, args...), "component", l.component)
}

func (l *slogLogger) Error(format string, args ...any) {
	l.base.Error(l.msg(format, args...), "component", l.component)
}

func (l *slogLogger) msg(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

func init() {
	// Ensure a sane default handler exists even if the embedding binary
	// never calls slog.SetDefault.
	if slog.Default() == nil {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	}
}
