package internal

import (
	"log"
	"os"
	"strings"
)

// LogLevel represents different logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// ParseLogLevel maps ERROR, WARN, INFO or DEBUG (any case) to a level; anything else is INFO
func ParseLogLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LogLevelError
	case "WARN", "WARNING":
		return LogLevelWarn
	case "DEBUG":
		return LogLevelDebug
	default:
		return LogLevelInfo
	}
}

// Logger provides leveled logging with a component prefix, e.g. "[Engine]"
type Logger struct {
	level  LogLevel
	prefix string
}

// NewLogger creates a new logger with the specified level
func NewLogger(component string, level LogLevel) *Logger {
	return &Logger{level: level, prefix: "[" + component + "] "}
}

// NewComponentLogger creates a logger whose level comes from the LOG_LEVEL environment variable
func NewComponentLogger(component string) *Logger {
	return NewLogger(component, ParseLogLevel(os.Getenv("LOG_LEVEL")))
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.logf(LogLevelError, format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.logf(LogLevelWarn, format, args...)
}

// Info logs info messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.logf(LogLevelInfo, format, args...)
}

// Debug logs debug messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.logf(LogLevelDebug, format, args...)
}

// Enabled reports whether messages at level are emitted
func (l *Logger) Enabled(level LogLevel) bool {
	return l.level >= level
}

func (l *Logger) logf(level LogLevel, format string, args ...interface{}) {
	if l.Enabled(level) {
		log.Printf(l.prefix+format, args...)
	}
}
