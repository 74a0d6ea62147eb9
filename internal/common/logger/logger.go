package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level represents the logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelQuiet // No output
)

// zapLevel maps a Level onto zap's levels. LevelQuiet sits above every level zap emits.
func (l Level) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelInfo:
		return zapcore.InfoLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1
	}
}

// Logger handles application logging. Terminal output carries the bare
// message and its key-value pairs; the optional log file gets timestamped
// JSON records.
type Logger struct {
	mu         sync.Mutex
	level      zap.AtomicLevel
	output     io.Writer
	fileOutput *os.File
	sugar      *zap.SugaredLogger
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default logger instance
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(os.Stderr)
	})
	return defaultLogger
}

// New creates a logger writing to output at info level.
func New(output io.Writer) *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		output: output,
	}
	l.rebuild()
	return l
}

// rebuild recreates the zap core tree. Callers hold l.mu or own l exclusively.
func (l *Logger) rebuild() {
	console := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		MessageKey:       "message",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	})
	cores := []zapcore.Core{
		zapcore.NewCore(console, zapcore.Lock(zapcore.AddSync(l.output)), l.level),
	}

	if l.fileOutput != nil {
		fileEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			MessageKey:     "message",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		})
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.Lock(l.fileOutput), l.level))
	}

	l.sugar = zap.New(zapcore.NewTee(cores...)).Sugar()
}

func (l *Logger) logger() *zap.SugaredLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sugar
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zapLevel())
}

// SetVerbose enables debug output
func (l *Logger) SetVerbose(verbose bool) {
	if verbose {
		l.SetLevel(LevelDebug)
	}
}

// SetQuiet disables all output except errors
func (l *Logger) SetQuiet(quiet bool) {
	if quiet {
		l.SetLevel(LevelError)
	}
}

// EnableFileLogging enables logging to bucketkit.log in the state directory
func (l *Logger) EnableFileLogging() error {
	logDir, err := LogDir()
	if err != nil {
		return err
	}
	return l.EnableFileLoggingTo(filepath.Join(logDir, "bucketkit.log"))
}

// EnableFileLoggingTo enables logging to the given file, creating its directory.
func (l *Logger) EnableFileLoggingTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fileOutput != nil {
		l.fileOutput.Close()
	}
	l.fileOutput = f
	l.rebuild()
	return nil
}

// Close flushes and closes the log file if open
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.sugar.Sync()
	if l.fileOutput != nil {
		l.fileOutput.Close()
		l.fileOutput = nil
		l.rebuild()
	}
}

// LogDir returns the log directory path
func LogDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	// Use XDG_STATE_HOME for logs (standard for runtime data)
	xdgState := os.Getenv("XDG_STATE_HOME")
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}

	return filepath.Join(xdgState, "bucketkit", "logs"), nil
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger().Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.logger().Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logger().Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.logger().Errorf(format, args...)
}

// DebugKV logs a message with key-value pairs at debug level
func (l *Logger) DebugKV(msg string, kvs ...interface{}) {
	l.logger().Debugw(msg, kvs...)
}

// InfoKV logs a message with key-value pairs at info level
func (l *Logger) InfoKV(msg string, kvs ...interface{}) {
	l.logger().Infow(msg, kvs...)
}

// WarnKV logs a message with key-value pairs at warn level
func (l *Logger) WarnKV(msg string, kvs ...interface{}) {
	l.logger().Warnw(msg, kvs...)
}

// ErrorKV logs a message with key-value pairs at error level
func (l *Logger) ErrorKV(msg string, kvs ...interface{}) {
	l.logger().Errorw(msg, kvs...)
}

// Package-level convenience functions
func Debug(format string, args ...interface{}) { Default().Debug(format, args...) }
func Info(format string, args ...interface{})  { Default().Info(format, args...) }
func Warn(format string, args ...interface{})  { Default().Warn(format, args...) }
func Error(format string, args ...interface{}) { Default().Error(format, args...) }
func DebugKV(msg string, kvs ...interface{})   { Default().DebugKV(msg, kvs...) }
func InfoKV(msg string, kvs ...interface{})    { Default().InfoKV(msg, kvs...) }
func WarnKV(msg string, kvs ...interface{})    { Default().WarnKV(msg, kvs...) }
func ErrorKV(msg string, kvs ...interface{})   { Default().ErrorKV(msg, kvs...) }
func SetVerbose(v bool)                        { Default().SetVerbose(v) }
func SetQuiet(q bool)                          { Default().SetQuiet(q) }
