// Package logger implements the dual-sink (file + console) logger shared by
// the writer, merger and delta components, adapted from the teacher's
// replication logger: file output carries every level, console output
// carries warnings and above, and each component tags its own lines so
// interleaved output from concurrent stages stays attributable.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level lists supported log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger writes tagged entries to a file and, for warnings and above, to
// the console as well. One Logger is typically created per component
// (writer, merger, delta) so concurrent stages don't interleave untagged
// output.
type Logger struct {
	mu          sync.Mutex
	component   string
	level       Level
	fileLogger  *log.Logger
	consoleLog  *log.Logger
	logFile     *os.File
	logFilePath string
}

// New opens (or creates) logDir/<component>.log and returns a Logger that
// tags every line with component.
func New(logDir, component string, level Level) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if component == "" {
		component = "csvpipe"
	}
	logFilePath := filepath.Join(logDir, fmt.Sprintf("%s.log", component))
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return &Logger{
		component:   component,
		level:       level,
		fileLogger:  log.New(logFile, "", 0),
		consoleLog:  log.New(os.Stdout, "", 0),
		logFile:     logFile,
		logFilePath: logFilePath,
	}, nil
}

// NewDiscard returns a Logger that drops everything, for tests and
// components run without a configured log directory.
func NewDiscard(component string) *Logger {
	return &Logger{
		component:  component,
		level:      ERROR + 1,
		fileLogger: log.New(io.Discard, "", 0),
		consoleLog: log.New(io.Discard, "", 0),
	}
}

// Close shuts down the backing log file, if any.
func (l *Logger) Close() error {
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

// Path returns the backing log file path, or "" for a discard logger.
func (l *Logger) Path() string {
	return l.logFilePath
}

func (l *Logger) format(level Level, format string, args ...interface{}) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("%s [%s] [%s] %s", timestamp, levelNames[level], l.component, fmt.Sprintf(format, args...))
}

func (l *Logger) toFile(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fileLogger.Println(l.format(level, format, args...))
}

func (l *Logger) toConsole(level Level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleLog.Println(l.format(level, format, args...))
}

func (l *Logger) toBoth(level Level, format string, args ...interface{}) {
	l.toFile(level, format, args...)
	if level >= WARN {
		l.toConsole(level, format, args...)
	}
}

// Debug logs a debug-level message (file only).
func (l *Logger) Debug(format string, args ...interface{}) { l.toFile(DEBUG, format, args...) }

// Info logs an info-level message (file only).
func (l *Logger) Info(format string, args ...interface{}) { l.toFile(INFO, format, args...) }

// Warn logs a warning (file and console).
func (l *Logger) Warn(format string, args ...interface{}) { l.toBoth(WARN, format, args...) }

// Error logs an error (file and console).
func (l *Logger) Error(format string, args ...interface{}) { l.toBoth(ERROR, format, args...) }

// Writer returns an io.Writer suitable for wiring into the standard log
// package or a third-party logger adapter, backed by the same log file.
func (l *Logger) Writer() io.Writer {
	if l.logFile != nil {
		return l.logFile
	}
	return io.Discard
}
