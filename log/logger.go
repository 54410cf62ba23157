// Package log provides structured logging with process context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the bridge core (structured fields)
//   - SugaredLogger: Printf-style logging for CLI surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Meta identifies the process that emits log entries.
type Meta struct {
	// Component is the subsystem name, e.g. "serve" or "native-host".
	Component string
	// InstanceID distinguishes concurrent processes. Optional.
	InstanceID string
}

// Logger provides structured logging with process context.
type Logger struct {
	zap   *zap.Logger
	level zap.AtomicLevel
	meta  Meta
	extra []zap.Field
}

// SugaredLogger provides printf-style logging for CLI surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a logger at debug level writing to os.Stderr.
func NewLogger(meta Meta) *Logger {
	return newLoggerWithWriter(meta, os.Stderr, zap.NewAtomicLevelAt(zapcore.DebugLevel))
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zap.NewAtomicLevel()}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// WithOutput returns a new logger with a different output writer.
// Context fields and the level are carried over.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	out := newLoggerWithWriter(l.meta, w, l.level)
	if len(l.extra) > 0 {
		out.zap = out.zap.With(l.extra...)
		out.extra = l.extra
	}
	return out
}

// SetLevel changes the minimum level for this logger and every logger
// derived from it. Accepts debug, info, warn and error.
func (l *Logger) SetLevel(level string) error {
	if level == "" {
		return nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	l.level.SetLevel(lvl)
	return nil
}

// Named returns a child logger tagged with a "subsystem" field, used for
// parts of one process (hub, relay, cdp).
func (l *Logger) Named(subsystem string) *Logger {
	field := zap.String("subsystem", subsystem)
	extra := append(append([]zap.Field(nil), l.extra...), field)
	return &Logger{zap: l.zap.With(field), level: l.level, meta: l.meta, extra: extra}
}

func newLoggerWithWriter(meta Meta, w io.Writer, level zap.AtomicLevel) *Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig()),
		zapcore.AddSync(w),
		level,
	)

	contextFields := []zap.Field{
		zap.String("component", meta.Component),
		zap.Int("pid", os.Getpid()),
	}
	if meta.InstanceID != "" {
		contextFields = append(contextFields, zap.String("instance_id", meta.InstanceID))
	}

	return &Logger{zap: zap.New(core).With(contextFields...), level: level, meta: meta}
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
