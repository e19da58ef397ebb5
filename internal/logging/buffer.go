package logging

import (
	"sync"
	"time"
)

// LogEntry is one structured log line as kept in history and streamed
// to API clients.
type LogEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      string         `json:"level"`
	Module     string         `json:"module"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// RingBuffer holds the most recent log entries, evicting the oldest
// once capacity is reached. Safe for concurrent use.
type RingBuffer struct {
	mu   sync.Mutex
	buf  []LogEntry
	next int
	full bool
}

func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{buf: make([]LogEntry, capacity)}
}

// Append records an entry, dropping the oldest one when full.
func (r *RingBuffer) Append(entry LogEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = entry
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Entries returns a copy of the buffered entries, oldest first.
func (r *RingBuffer) Entries() []LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		if r.next == 0 {
			return nil
		}
		return append([]LogEntry(nil), r.buf[:r.next]...)
	}

	out := make([]LogEntry, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	return append(out, r.buf[:r.next]...)
}

// Len reports how many entries are buffered.
func (r *RingBuffer) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
