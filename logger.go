package modbus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel type defines the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelNone // Disables logging
)

// LevelToString maps LogLevel to its string representation.
var LevelToString = map[LogLevel]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
	LevelNone:    "NONE",
}

// StringToLevel maps string representation of LogLevel to its value.
var StringToLevel = map[string]LogLevel{
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARNING": LevelWarning,
	"ERROR":   LevelError,
	"NONE":    LevelNone,
}

// SimpleLogger is an io.Writer that drops lines below its level. The level
// of a line is taken from its "[DEBUG]" / "DEBUG:" style prefix.
type SimpleLogger struct {
	mu         sync.Mutex
	level      LogLevel
	output     io.Writer
	timeFormat string
	prefix     string
}

// NewSimpleLogger creates a new SimpleLogger instance.
// If output is nil, it defaults to os.Stdout.
func NewSimpleLogger(output io.Writer, level LogLevel, prefix string) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	return &SimpleLogger{
		level:      level,
		output:     output,
		timeFormat: time.RFC3339,
		prefix:     prefix,
	}
}

// SetLevel sets the logging level of the SimpleLogger.
func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level of the SimpleLogger.
func (l *SimpleLogger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevelFromString sets the logging level from a string representation (e.g., "debug").
func (l *SimpleLogger) SetLevelFromString(levelStr string) error {
	if level, ok := StringToLevel[strings.ToUpper(levelStr)]; ok {
		l.SetLevel(level)
		return nil
	}
	return fmt.Errorf("invalid log level: %s. Available levels: DEBUG, INFO, WARNING, ERROR, NONE", levelStr)
}

// Write implements io.Writer. Lines below the configured level are
// swallowed but still reported as written.
func (l *SimpleLogger) Write(p []byte) (n int, err error) {
	message := string(p)
	level := determineLevel(message)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output == nil || l.level == LevelNone || level < l.level {
		return len(p), nil
	}
	timestamp := time.Now().Format(l.timeFormat)
	formatted := fmt.Sprintf("%s [%s] <%s> %s\n", timestamp, LevelToString[level], l.prefix, stripLevel(strings.TrimSpace(message)))
	if _, err := io.WriteString(l.output, formatted); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the underlying output unless it is a standard stream.
func (l *SimpleLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.output == os.Stdout || l.output == os.Stderr {
		return nil
	}
	if closer, ok := l.output.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

var levelPrefixes = []struct {
	prefix string
	level  LogLevel
}{
	{"[DEBUG]", LevelDebug},
	{"DEBUG:", LevelDebug},
	{"[INFO]", LevelInfo},
	{"INFO:", LevelInfo},
	{"[WARNING]", LevelWarning},
	{"WARNING:", LevelWarning},
	{"WARN:", LevelWarning},
	{"[ERROR]", LevelError},
	{"ERROR:", LevelError},
}

// determineLevel infers the log level from the message prefix, LevelInfo
// when there is none.
func determineLevel(message string) LogLevel {
	upper := strings.ToUpper(message)
	for _, p := range levelPrefixes {
		if strings.HasPrefix(upper, p.prefix) {
			return p.level
		}
	}
	return LevelInfo
}

func stripLevel(message string) string {
	upper := strings.ToUpper(message)
	for _, p := range levelPrefixes {
		if strings.HasPrefix(upper, p.prefix) {
			return strings.TrimSpace(message[len(p.prefix):])
		}
	}
	return message
}

// logf writes one leveled line to w. A nil writer drops the line.
func logf(w io.Writer, level LogLevel, format string, args ...any) {
	if w == nil || w == io.Discard {
		return
	}
	fmt.Fprintf(w, "["+LevelToString[level]+"] "+format+"\n", args...)
}
