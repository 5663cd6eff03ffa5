// Package activity keeps the coordinator's bounded activity log.
//
// Every entry is mirrored to the process logger and retained in a fixed-size
// ring so that dashboards can read the most recent events over HTTP without
// touching the process log output. Subscribers receive entries as they are
// appended.
package activity

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Level is the severity of an activity entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DefaultRetention is the number of entries kept when no capacity is given.
const DefaultRetention = 100

// Entry is one line of the activity log.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// Log is a process-wide ring buffer of activity entries.
// Thread-safe: all methods may be called concurrently.
type Log struct {
	logger *log.Logger
	now    func() time.Time
	subs   map[chan Entry]struct{}
	buf    []Entry // ring storage, len == capacity
	start  int     // index of the oldest entry
	count  int     // number of valid entries
	mu     sync.Mutex
}

// New creates a log retaining at most capacity entries. A nil logger
// falls back to the charm default logger.
func New(capacity int, logger *log.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultRetention
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Log{
		logger: logger,
		now:    time.Now,
		subs:   make(map[chan Entry]struct{}),
		buf:    make([]Entry, capacity),
	}
}

// Info records an informational entry. keyvals are alternating key/value
// pairs, rendered into the stored message and passed to the logger as
// structured fields.
func (l *Log) Info(msg string, keyvals ...any) {
	l.logger.Info(msg, keyvals...)
	l.add(LevelInfo, msg, keyvals)
}

// Warn records a warning entry.
func (l *Log) Warn(msg string, keyvals ...any) {
	l.logger.Warn(msg, keyvals...)
	l.add(LevelWarn, msg, keyvals)
}

// Error records an error entry.
func (l *Log) Error(msg string, keyvals ...any) {
	l.logger.Error(msg, keyvals...)
	l.add(LevelError, msg, keyvals)
}

func (l *Log) add(level Level, msg string, keyvals []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{Timestamp: l.now(), Level: level, Message: render(msg, keyvals)}

	capacity := len(l.buf)
	if l.count < capacity {
		l.buf[(l.start+l.count)%capacity] = e
		l.count++
	} else {
		// full: overwrite the oldest entry
		l.buf[l.start] = e
		l.start = (l.start + 1) % capacity
	}

	for ch := range l.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber, drop rather than block writers
		}
	}
}

// Recent returns up to n of the newest entries in chronological order.
// n <= 0 returns every retained entry.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recentLocked(n)
}

func (l *Log) recentLocked(n int) []Entry {
	if n <= 0 || n > l.count {
		n = l.count
	}
	out := make([]Entry, 0, n)
	capacity := len(l.buf)
	for i := l.count - n; i < l.count; i++ {
		out = append(out, l.buf[(l.start+i)%capacity])
	}
	return out
}

// SubscribeWithBacklog returns up to backlog of the newest entries and
// registers a listener for everything appended after them. Both happen under
// one lock, so no entry is missed or delivered twice. The returned cancel
// function unregisters the listener and closes the channel.
func (l *Log) SubscribeWithBacklog(backlog, buffer int) ([]Entry, <-chan Entry, func()) {
	ch := make(chan Entry, buffer)

	l.mu.Lock()
	recent := l.recentLocked(backlog)
	l.subs[ch] = struct{}{}
	l.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, ch)
			l.mu.Unlock()
			close(ch)
		})
	}
	return recent, ch, cancel
}

// FormatBytes renders a byte count using binary units ("10 MiB").
func FormatBytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

func render(msg string, keyvals []any) string {
	if len(keyvals) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(keyvals); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(keyvals) {
			fmt.Fprintf(&b, "%v=%v", keyvals[i], keyvals[i+1])
		} else {
			fmt.Fprintf(&b, "%v", keyvals[i])
		}
	}
	return b.String()
}
