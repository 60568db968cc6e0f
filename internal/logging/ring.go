package logging

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DefaultRingSize is the number of warn/error records kept for the logs
// command.
const DefaultRingSize = 200

// Entry is one record captured by the TeeHandler.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Source  string
}

// String renders the entry as one line: "15:04:05 WARN [source] message".
func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(e.Time.Format(time.TimeOnly))
	b.WriteByte(' ')
	b.WriteString(e.Level.String())
	if e.Source != "" {
		fmt.Fprintf(&b, " [%s]", e.Source)
	}
	b.WriteByte(' ')
	b.WriteString(e.Message)
	return b.String()
}

// Ring is a fixed-capacity circular buffer of entries. The oldest entry is
// overwritten when full. Safe for concurrent use.
type Ring struct {
	mu    sync.Mutex
	buf   []Entry
	head  int
	count int
}

// NewRing allocates a ring. Capacities below 1 are clamped to 1.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]Entry, max(1, capacity))}
}

// Add appends e, evicting the oldest entry when full.
func (r *Ring) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.buf)
	if r.count < n {
		r.buf[(r.head+r.count)%n] = e
		r.count++
		return
	}
	r.buf[r.head] = e
	r.head = (r.head + 1) % n
}

// Snapshot returns the entries oldest first in a new slice.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, r.count)
	first := min(len(r.buf)-r.head, r.count)
	copy(out, r.buf[r.head:r.head+first])
	if rest := r.count - first; rest > 0 {
		copy(out[first:], r.buf[:rest])
	}
	return out
}

// Len reports the number of stored entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Lines renders up to the last n entries, oldest first. n <= 0 means all.
func (r *Ring) Lines(n int) []string {
	entries := r.Snapshot()
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}
