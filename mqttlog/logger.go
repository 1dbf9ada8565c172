// Package mqttlog provides the minimal structured logging interface used
// throughout mqttpipe, grounded on core/interfaces.go and
// pkg/logger/simple.go in the teacher: no external logging library is used
// by the teacher's own packages either, so a small stdlib-backed
// implementation is this module's own idiom rather than a fallback of
// convenience (see DESIGN.md).
package mqttlog

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Fields is a structured field bag attached to a log line.
type Fields map[string]any

// Logger is the minimal logging contract every mqttpipe package depends on.
type Logger interface {
	Info(msg string, fields Fields)
	Warn(msg string, fields Fields)
	Error(msg string, fields Fields)
	Debug(msg string, fields Fields)

	InfoWithContext(ctx context.Context, msg string, fields Fields)
	WarnWithContext(ctx context.Context, msg string, fields Fields)
	ErrorWithContext(ctx context.Context, msg string, fields Fields)
	DebugWithContext(ctx context.Context, msg string, fields Fields)
}

// noOpLogger discards everything; used as the default when a host doesn't
// supply a Logger.
type noOpLogger struct{}

// NoOp returns a Logger that discards all output.
func NoOp() Logger { return noOpLogger{} }

func (noOpLogger) Info(string, Fields)  {}
func (noOpLogger) Warn(string, Fields)  {}
func (noOpLogger) Error(string, Fields) {}
func (noOpLogger) Debug(string, Fields) {}

func (noOpLogger) InfoWithContext(context.Context, string, Fields)  {}
func (noOpLogger) WarnWithContext(context.Context, string, Fields)  {}
func (noOpLogger) ErrorWithContext(context.Context, string, Fields) {}
func (noOpLogger) DebugWithContext(context.Context, string, Fields) {}

// Level gates verbosity for SimpleLogger.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// SimpleLogger is a small stdlib-backed structured logger, grounded on
// pkg/logger/simple.go: one line per call, "key=value" fields, no
// dependencies beyond the standard library.
type SimpleLogger struct {
	mu    sync.Mutex
	level Level
	std   *log.Logger
}

// NewSimpleLogger returns a SimpleLogger writing to stderr at InfoLevel.
func NewSimpleLogger() *SimpleLogger {
	return &SimpleLogger{level: InfoLevel, std: log.New(os.Stderr, "", log.LstdFlags)}
}

// SetLevel adjusts the minimum level that is actually written.
func (l *SimpleLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *SimpleLogger) Info(msg string, f Fields)  { l.log(InfoLevel, "INFO", msg, f) }
func (l *SimpleLogger) Warn(msg string, f Fields)  { l.log(WarnLevel, "WARN", msg, f) }
func (l *SimpleLogger) Error(msg string, f Fields) { l.log(ErrorLevel, "ERROR", msg, f) }
func (l *SimpleLogger) Debug(msg string, f Fields) { l.log(DebugLevel, "DEBUG", msg, f) }

func (l *SimpleLogger) InfoWithContext(_ context.Context, msg string, f Fields) { l.Info(msg, f) }
func (l *SimpleLogger) WarnWithContext(_ context.Context, msg string, f Fields) { l.Warn(msg, f) }
func (l *SimpleLogger) ErrorWithContext(_ context.Context, msg string, f Fields) {
	l.Error(msg, f)
}
func (l *SimpleLogger) DebugWithContext(_ context.Context, msg string, f Fields) {
	l.Debug(msg, f)
}

func (l *SimpleLogger) log(level Level, tag, msg string, f Fields) {
	l.mu.Lock()
	cur := l.level
	l.mu.Unlock()
	if level < cur {
		return
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", tag), msg)
	for k, v := range f {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	l.std.Println(strings.Join(parts, " "))
}
