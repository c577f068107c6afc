// Package log provides leveled, field-based logging for the bridge and
// receiver. Components receive a *Logger at construction and never write
// to process-wide state.
package log

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log message.
type Level int

const (
	// LevelDebug is for detailed tracing of codec and protocol activity.
	LevelDebug Level = iota
	// LevelInfo is for lifecycle messages.
	LevelInfo
	// LevelWarn is for tolerated protocol violations and degraded paths.
	LevelWarn
	// LevelError is for failures that were isolated but lost work.
	LevelError
)

// String returns the level name.
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

// ParseLevel parses a level name. Unrecognized names map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled messages with attached fields.
type Logger struct {
	mu     *sync.Mutex
	level  Level
	out    io.Writer
	prefix string
	fields map[string]any
}

// Option configures a Logger.
type Option func(*Logger)

// WithLevel sets the minimum level written.
func WithLevel(level Level) Option {
	return func(l *Logger) { l.level = level }
}

// WithOutput sets the destination writer. Defaults to os.Stderr.
func WithOutput(w io.Writer) Option {
	return func(l *Logger) { l.out = w }
}

// WithPrefix sets a prefix prepended to every message.
func WithPrefix(prefix string) Option {
	return func(l *Logger) { l.prefix = prefix }
}

// New creates a Logger.
func New(opts ...Option) *Logger {
	l := &Logger{
		mu:     &sync.Mutex{},
		level:  LevelInfo,
		out:    os.Stderr,
		prefix: "weft",
		fields: map[string]any{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Discard returns a logger that writes nothing. Useful in tests.
func Discard() *Logger {
	return New(WithOutput(io.Discard), WithLevel(LevelError+1))
}

// WithField returns a child logger with one field added.
func (l *Logger) WithField(key string, value any) *Logger {
	return l.WithFields(map[string]any{key: value})
}

// WithFields returns a child logger with the given fields added.
// The child shares the parent's writer and lock.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		mu:     l.mu,
		level:  l.level,
		out:    l.out,
		prefix: l.prefix,
		fields: merged,
	}
}

// Debug logs at LevelDebug.
func (l *Logger) Debug(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Info logs at LevelInfo.
func (l *Logger) Info(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warn logs at LevelWarn.
func (l *Logger) Warn(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Error logs at LevelError.
func (l *Logger) Error(format string, args ...any) { l.log(LevelError, format, args...) }

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.level {
		return
	}

	msg := fmt.Sprintf(format, args...)

	var b strings.Builder
	b.WriteString(time.Now().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(level.String())
	b.WriteByte(' ')
	if l.prefix != "" {
		b.WriteByte('[')
		b.WriteString(l.prefix)
		b.WriteString("] ")
	}
	b.WriteString(msg)

	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, l.fields[k])
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, b.String())
}
