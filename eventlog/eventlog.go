// Package eventlog keeps the most recent rig events for display.
package eventlog

import (
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// DefaultSize is the number of entries kept when New is given zero.
const DefaultSize = 50

// Entry is one logged line.
type Entry struct {
	At      time.Time
	Message string
}

// Log is a bounded ring of entries, oldest dropped first.
type Log struct {
	mu      sync.Mutex
	size    int
	entries deque.Deque[Entry]
}

// New creates a Log holding at most size entries.
func New(size int) *Log {
	if size <= 0 {
		size = DefaultSize
	}
	return &Log{size: size}
}

// Add appends an entry, dropping the oldest when full.
func (l *Log) Add(at time.Time, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries.PushBack(Entry{At: at, Message: msg})
	for l.entries.Len() > l.size {
		l.entries.PopFront()
	}
}

// Recent returns up to n entries, newest first. n <= 0 returns all.
func (l *Log) Recent(n int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	count := l.entries.Len()
	if n > 0 && n < count {
		count = n
	}
	out := make([]Entry, 0, count)
	for i := l.entries.Len() - 1; i >= 0 && len(out) < count; i-- {
		out = append(out, l.entries.At(i))
	}
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries.Len()
}
