package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	// LevelDebug is the most verbose logging level
	LevelDebug Level = iota
	// LevelInfo logs informational messages
	LevelInfo
	// LevelWarn logs warnings
	LevelWarn
	// LevelError logs errors
	LevelError
	// LevelNone disables all logging
	LevelNone
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR", "NONE"}

// String returns string representation of log level
func (l Level) String() string {
	if l < LevelDebug || l > LevelNone {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel parses a string into a Level. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off", "disabled":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Logger is a levelled, prefix-aware logger shared by the session components.
type Logger struct {
	mu     *sync.RWMutex
	level  *Level
	out    *log.Logger
	closer io.Closer
	prefix string
}

var (
	globalMu     sync.Mutex
	globalLogger *Logger
)

// Init replaces the global logger with one writing to logPath (stderr when
// logPath is "-", discarded when empty).
func Init(level Level, logPath string) error {
	l, err := New(level, logPath, "")
	if err != nil {
		return err
	}

	globalMu.Lock()
	old := globalLogger
	globalLogger = l
	globalMu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// New creates a Logger that appends to the file at logPath.
func New(level Level, logPath string, prefix string) (*Logger, error) {
	switch {
	case level == LevelNone || logPath == "":
		return NewWriter(LevelNone, io.Discard, prefix), nil
	case logPath == "-":
		return NewWriter(level, os.Stderr, prefix), nil
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := NewWriter(level, file, prefix)
	l.closer = file
	return l, nil
}

// NewWriter creates a Logger writing to w.
func NewWriter(level Level, w io.Writer, prefix string) *Logger {
	lvl := level
	return &Logger{
		mu:     &sync.RWMutex{},
		level:  &lvl,
		out:    log.New(w, "", 0),
		prefix: prefix,
	}
}

// Global returns the global logger instance. It discards everything until
// Init is called.
func Global() *Logger {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = NewWriter(LevelNone, io.Discard, "")
	}
	return globalLogger
}

// WithPrefix derives a logger sharing level and output with an extended prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	newPrefix := prefix
	if l.prefix != "" {
		newPrefix = l.prefix + ":" + prefix
	}
	return &Logger{
		mu:     l.mu,
		level:  l.level,
		out:    l.out,
		prefix: newPrefix,
	}
}

// Prefix returns the logger's component prefix.
func (l *Logger) Prefix() string {
	return l.prefix
}

// SetLevel sets the logging level for this logger and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return *l.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if level < *l.level || *l.level == LevelNone {
		return
	}

	var b strings.Builder
	b.WriteString(time.Now().Format("2006-01-02 15:04:05.000"))
	b.WriteString(" [")
	b.WriteString(level.String())
	b.WriteString("] ")
	if l.prefix != "" {
		b.WriteString("[" + l.prefix + "] ")
	}
	fmt.Fprintf(&b, format, args...)
	l.out.Println(b.String())
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Close closes the underlying file, if any.
func (l *Logger) Close() error {
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Named returns a global-backed logger for a component. The returned logger
// resolves the global logger on each call, so components created before Init
// still log to the configured destination.
func Named(component string) *Component {
	return &Component{name: component}
}

// Component is a lazily resolved, prefixed view of the global logger.
type Component struct {
	name string
}

func (c *Component) resolve() *Logger {
	return Global().WithPrefix(c.name)
}

// Debug logs a debug message
func (c *Component) Debug(format string, args ...interface{}) { c.resolve().Debug(format, args...) }

// Info logs an informational message
func (c *Component) Info(format string, args ...interface{}) { c.resolve().Info(format, args...) }

// Warn logs a warning message
func (c *Component) Warn(format string, args ...interface{}) { c.resolve().Warn(format, args...) }

// Error logs an error message
func (c *Component) Error(format string, args ...interface{}) { c.resolve().Error(format, args...) }

// Debug logs a debug message using the global logger
func Debug(format string, args ...interface{}) {
	Global().Debug(format, args...)
}

// Info logs an informational message using the global logger
func Info(format string, args ...interface{}) {
	Global().Info(format, args...)
}

// Warn logs a warning message using the global logger
func Warn(format string, args ...interface{}) {
	Global().Warn(format, args...)
}

// Error logs an error message using the global logger
func Error(format string, args ...interface{}) {
	Global().Error(format, args...)
}
