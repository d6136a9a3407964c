// Package gblog is a small leveled logger, a direct port of the
// original's gbLogInit/gbLog/gbLogFinalize semantics (original_source/
// src/gibson.c): a configured sink, a minimum level gate, and a flush
// cadence instead of flushing every line.
package gblog

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level mirrors spec.md §7's error taxonomy severities.
type Level int

const (
	Debug Level = iota
	Info
	Warning
	Error
	Critical
)

func (l Level) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warning:
		return "WARNING"
	case Error:
		return "ERROR"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel accepts the config file's textual level name, case
// insensitive, defaulting to Info on an unrecognized value.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return Debug
	case "warning":
		return Warning
	case "error":
		return Error
	case "critical":
		return Critical
	default:
		return Info
	}
}

// Logger writes timestamped, leveled lines to a sink, flushing every
// flushRate lines rather than on every write — mirroring
// gbConfigReadInt(..., "logflushrate", ...).
type Logger struct {
	mu        sync.Mutex
	out       io.Writer
	minLevel  Level
	flushRate int
	unflushed int
	closer    io.Closer
}

// New opens path as the log sink ("" or "-" means stdout) at minLevel,
// flushing to disk every flushRate lines.
func New(path string, minLevel Level, flushRate int) (*Logger, error) {
	if flushRate <= 0 {
		flushRate = 1
	}
	if path == "" || path == "-" {
		return &Logger{out: os.Stdout, minLevel: minLevel, flushRate: flushRate}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("gblog: open %s: %w", path, err)
	}
	return &Logger{out: f, minLevel: minLevel, flushRate: flushRate, closer: f}, nil
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.minLevel {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[%s] %s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, fmt.Sprintf(format, args...))
	l.unflushed++
	if l.unflushed >= l.flushRate {
		if f, ok := l.out.(*os.File); ok {
			_ = f.Sync()
		}
		l.unflushed = 0
	}
}

func (l *Logger) Debugf(format string, args ...any)    { l.log(Debug, format, args...) }
func (l *Logger) Infof(format string, args ...any)     { l.log(Info, format, args...) }
func (l *Logger) Warningf(format string, args ...any)  { l.log(Warning, format, args...) }
func (l *Logger) Errorf(format string, args ...any)    { l.log(Error, format, args...) }
func (l *Logger) Criticalf(format string, args ...any) { l.log(Critical, format, args...) }

// Flush forces any buffered bytes to the sink regardless of flushRate.
func (l *Logger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if f, ok := l.out.(*os.File); ok {
		_ = f.Sync()
	}
	l.unflushed = 0
}

// Close flushes and closes the sink, mirroring gbLogFinalize.
func (l *Logger) Close() error {
	l.Flush()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}
