package logger

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
	LevelDebug LogLevel = "DEBUG"
)

var levelPriority = map[LogLevel]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ParseLevel maps a config string ("debug", "info", ...) to a LogLevel
func ParseLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// NewLogger creates a JSON logger on stdout that keeps the last maxSize entries
func NewLogger(maxSize int, minLevel LogLevel) *Logger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapLevel(minLevel),
	)

	return FromZap(zap.New(core, zap.AddCaller(), zap.AddCallerSkip(2), zap.AddStacktrace(zapcore.ErrorLevel)), maxSize, minLevel)
}

// FromZap wraps an existing zap logger (tests pass zaptest loggers here)
func FromZap(zl *zap.Logger, maxSize int, minLevel LogLevel) *Logger {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Logger{
		zl:    zl,
		sugar: zl.Sugar(),
		buf: &entryBuffer{
			entries:  make([]LogEntry, 0),
			maxSize:  maxSize,
			minLevel: minLevel,
		},
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return FromZap(zap.NewNop(), 1, LevelError)
}

// Named returns a child logger writing into the same entry buffer
func (l *Logger) Named(name string) *Logger {
	full := name
	if l.name != "" {
		full = l.name + "." + name
	}
	zl := l.zl.Named(name)
	return &Logger{
		name:  full,
		zl:    zl,
		sugar: zl.Sugar(),
		buf:   l.buf,
	}
}

// Zap exposes the underlying zap logger for libraries that want one
func (l *Logger) Zap() *zap.Logger {
	return l.zl
}

// Sync flushes buffered zap output
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

// log is the internal logging method
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	b := l.buf
	b.mu.RLock()
	min := b.minLevel
	b.mu.RUnlock()
	if levelPriority[level] < levelPriority[min] {
		return
	}

	message := format
	if len(args) > 0 {
		message = fmt.Sprintf(format, args...)
	}

	switch level {
	case LevelDebug:
		l.sugar.Debug(message)
	case LevelWarn:
		l.sugar.Warn(message)
	case LevelError:
		l.sugar.Error(message)
	default:
		l.sugar.Info(message)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries = append(b.entries, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Source:    l.name,
		Message:   message,
	})

	// Keep only the last maxSize entries
	if len(b.entries) > b.maxSize {
		b.entries = b.entries[len(b.entries)-b.maxSize:]
	}
}

// Info logs an informational message
func (l *Logger) Info(args ...interface{}) {
	l.log(LevelInfo, "%s", fmt.Sprint(args...))
}

// Infof logs an informational message with formatting
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Error logs an error message
func (l *Logger) Error(args ...interface{}) {
	l.log(LevelError, "%s", fmt.Sprint(args...))
}

// Errorf logs an error message with formatting
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(args ...interface{}) {
	l.log(LevelWarn, "%s", fmt.Sprint(args...))
}

// Warnf logs a warning message with formatting
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(args ...interface{}) {
	l.log(LevelDebug, "%s", fmt.Sprint(args...))
}

// Debugf logs a debug message with formatting
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// SetLevel changes the minimum level for this logger and every logger
// sharing its buffer
func (l *Logger) SetLevel(level LogLevel) {
	l.buf.mu.Lock()
	defer l.buf.mu.Unlock()
	l.buf.minLevel = level
}

// GetEntries returns a copy of all log entries
func (l *Logger) GetEntries() []LogEntry {
	l.buf.mu.RLock()
	defer l.buf.mu.RUnlock()

	entries := make([]LogEntry, len(l.buf.entries))
	copy(entries, l.buf.entries)
	return entries
}

// Count returns the number of log entries
func (l *Logger) Count() int {
	l.buf.mu.RLock()
	defer l.buf.mu.RUnlock()
	return len(l.buf.entries)
}

func zapLevel(level LogLevel) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
