// Package logging provides real-time console output for running tasks.
// It wraps zap with a small, field-map based API so callers do not depend on
// zap types directly.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

var zapLevels = map[Level]zapcore.Level{
	LevelDebug: zapcore.DebugLevel,
	LevelInfo:  zapcore.InfoLevel,
	LevelWarn:  zapcore.WarnLevel,
	LevelError: zapcore.ErrorLevel,
}

// ParseLevel converts a case-insensitive level name ("debug", "info", "warn",
// "error") into a Level.
func ParseLevel(s string) (Level, error) {
	level := Level(strings.ToUpper(strings.TrimSpace(s)))
	if level == "WARNING" {
		level = LevelWarn
	}
	if _, ok := zapLevels[level]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}

// Logger writes one line per entry:
//
//	TIMESTAMP LEVEL [component] message {"key": "value"}
type Logger struct {
	zl        *zap.Logger
	level     zap.AtomicLevel
	output    io.Writer
	component string
	traceID   string
}

// New creates a Logger writing INFO and above to stdout.
func New() *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		output: os.Stdout,
	}
	l.build()
	return l
}

// NewNop creates a Logger that discards everything.
func NewNop() *Logger {
	l := New()
	l.SetOutput(io.Discard)
	return l
}

func (l *Logger) build() {
	encoder := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		NameKey:          "component",
		MessageKey:       "msg",
		EncodeTime:       encodeTime,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeName:       encodeComponent,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})

	zl := zap.New(zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(l.output)), l.level))
	if l.component != "" {
		zl = zl.Named(l.component)
	}
	if l.traceID != "" {
		zl = zl.With(zap.String("trace_id", l.traceID))
	}
	l.zl = zl
}

func encodeTime(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format("2006-01-02T15:04:05.000Z"))
}

func encodeComponent(name string, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + name + "]")
}

func (l *Logger) derive(component, traceID string) *Logger {
	d := &Logger{
		level:     zap.NewAtomicLevelAt(l.level.Level()),
		output:    l.output,
		component: component,
		traceID:   traceID,
	}
	d.build()
	return d
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	return l.derive(component, l.traceID)
}

// WithTraceID returns a new logger that tags every entry with traceID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	return l.derive(l.component, traceID)
}

// SetLevel sets the minimum log level. Unknown levels are ignored.
func (l *Logger) SetLevel(level Level) {
	if zl, ok := zapLevels[level]; ok {
		l.level.SetLevel(zl)
	}
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
	l.build()
}

// Zap exposes the underlying zap logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.zl.Debug(msg, toZap(fields)...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.zl.Info(msg, toZap(fields)...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.zl.Warn(msg, toZap(fields)...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.zl.Error(msg, toZap(fields)...)
}

// toZap converts the first field map into zap fields, sorted by key.
func toZap(fields []map[string]interface{}) []zap.Field {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return nil
	}
	m := fields[0]

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, m[k]))
	}
	return out
}

// --- Task lifecycle logging ---

// TaskStarted logs that a task's run-loop was spawned.
func (l *Logger) TaskStarted(taskID string) {
	l.Info("task_started", map[string]interface{}{
		"task": taskID,
	})
}

// TaskStopped logs that a task's run-loop has exited.
func (l *Logger) TaskStopped(taskID string, uptime time.Duration) {
	l.Info("task_stopped", map[string]interface{}{
		"task":   taskID,
		"uptime": uptime.String(),
	})
}

// CycleFailed logs a failed processing cycle.
func (l *Logger) CycleFailed(taskID string, err error) {
	l.Error("cycle_failed", map[string]interface{}{
		"task":  taskID,
		"error": err.Error(),
	})
}

// CycleCompleted logs a processing cycle (real-time output).
func (l *Logger) CycleCompleted(taskID string, duration, sleep time.Duration) {
	l.Debug("cycle", map[string]interface{}{
		"task":     taskID,
		"duration": duration.String(),
		"sleep":    sleep.String(),
	})
}

// HeartbeatMissed logs a task whose heartbeat went silent.
func (l *Logger) HeartbeatMissed(taskID string, silence time.Duration) {
	l.Warn("heartbeat_missed", map[string]interface{}{
		"task":    taskID,
		"silence": silence.String(),
	})
}

// ConfigLoaded logs where configuration was read from.
func (l *Logger) ConfigLoaded(path string) {
	if path == "" {
		path = "defaults"
	}
	l.Info("config_loaded", map[string]interface{}{
		"path": path,
	})
}
