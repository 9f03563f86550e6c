// Package log provides structured logging for the statusline engine.
// It writes structured fields (level, category, timestamp) to a log file
// and keeps a ring buffer of recent entries for diagnostic subcommands.
package log

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Category groups related log messages.
type Category string

const (
	CatStore      Category = "store"      // relational store / migrations
	CatStats      Category = "stats"      // stats engine, burn-rate policies
	CatLearner    Category = "learner"    // context-window learner
	CatTranscript Category = "transcript" // transcript tail reading
	CatHook       Category = "hook"       // hook state machine
	CatGit        Category = "git"        // git status integration
	CatConfig     Category = "config"     // configuration loading/saving
	CatRender     Category = "render"     // statusline rendering
)

// Logger provides structured logging.
type Logger struct {
	mu       sync.Mutex
	file     *os.File
	writer   io.Writer
	buffer   *RingBuffer
	enabled  bool
	minLevel Level
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Init initializes the global logger.
// Returns a cleanup function to close the log file.
func Init(path string, bufferSize int) (func(), error) {
	var initErr error
	once.Do(func() {
		defaultLogger, initErr = newLogger(path, bufferSize)
	})
	if initErr != nil {
		return nil, initErr
	}
	// Check if logger was initialized (handles case where once.Do already ran)
	if defaultLogger == nil {
		return nil, fmt.Errorf("logger initialization failed or already attempted")
	}
	return func() {
		if defaultLogger != nil && defaultLogger.file != nil {
			_ = defaultLogger.file.Close()
		}
	}, nil
}

func newLogger(path string, bufferSize int) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644) //nolint:gosec // G304: path is user-controlled debug log path
	if err != nil {
		return nil, err
	}

	return &Logger{
		file:     f,
		writer:   f,
		buffer:   NewRingBuffer(bufferSize),
		enabled:  true,
		minLevel: LevelDebug,
	}, nil
}

// SetEnabled toggles logging on/off.
func SetEnabled(enabled bool) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.enabled = enabled
		defaultLogger.mu.Unlock()
	}
}

// SetMinLevel sets the minimum log level.
func SetMinLevel(level Level) {
	if defaultLogger != nil {
		defaultLogger.mu.Lock()
		defaultLogger.minLevel = level
		defaultLogger.mu.Unlock()
	}
}

// Debug logs at debug level.
func Debug(cat Category, msg string, fields ...any) {
	log(LevelDebug, cat, msg, fields...)
}

// Info logs at info level.
func Info(cat Category, msg string, fields ...any) {
	log(LevelInfo, cat, msg, fields...)
}

// Warn logs at warning level.
func Warn(cat Category, msg string, fields ...any) {
	log(LevelWarn, cat, msg, fields...)
}

// Error logs at error level.
func Error(cat Category, msg string, fields ...any) {
	log(LevelError, cat, msg, fields...)
}

// ErrorErr logs an error with the error value.
func ErrorErr(cat Category, msg string, err error, fields ...any) {
	if err != nil {
		fields = append(fields, "error", err.Error())
	} else {
		fields = append(fields, "error", "<nil>")
	}
	log(LevelError, cat, msg, fields...)
}

func log(level Level, cat Category, msg string, fields ...any) {
	if defaultLogger == nil || !defaultLogger.enabled {
		return
	}
	if level < defaultLogger.minLevel {
		return
	}

	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()

	// Append fields (key=value pairs) to the message text
	text := msg
	for i := 0; i+1 < len(fields); i += 2 {
		text += fmt.Sprintf(" %v=%v", fields[i], fields[i+1])
	}
	// Handle odd field count - append orphan key with no value
	if len(fields)%2 != 0 {
		text += fmt.Sprintf(" %v=<missing>", fields[len(fields)-1])
	}

	entry := Entry{Time: time.Now(), Level: level, Category: cat, Message: text}

	// Write to file: 2025-12-06T10:45:00 [ERROR] [store] message key=value
	if defaultLogger.writer != nil {
		_, _ = defaultLogger.writer.Write([]byte(entry.String() + "\n"))
	}

	// Keep the structured form for diagnostic reads
	if defaultLogger.buffer != nil {
		defaultLogger.buffer.Add(entry)
	}
}

// GetRecentLogs returns recent log entries from the ring buffer,
// formatted the same way as the file lines.
func GetRecentLogs(count int) []string {
	if defaultLogger == nil || defaultLogger.buffer == nil {
		return nil
	}
	entries := defaultLogger.buffer.GetLast(count)
	if entries == nil {
		return nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

// GetRecentLogsByCategory returns recent entries for one category,
// formatted like the file lines.
func GetRecentLogsByCategory(cat Category, count int) []string {
	if defaultLogger == nil || defaultLogger.buffer == nil {
		return nil
	}
	entries := defaultLogger.buffer.GetLastByCategory(cat, count)
	if entries == nil {
		return nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

// ClearBuffer clears the ring buffer.
func ClearBuffer() {
	if defaultLogger == nil || defaultLogger.buffer == nil {
		return
	}
	defaultLogger.mu.Lock()
	defer defaultLogger.mu.Unlock()
	defaultLogger.buffer.Clear()
}
