package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTraceLogCapacity bounds the per-subscriber trace log.
const DefaultTraceLogCapacity = 500

// TraceLevel is the severity of a trace log entry.
type TraceLevel string

const (
	TraceLevelInfo  TraceLevel = "info"
	TraceLevelWarn  TraceLevel = "warn"
	TraceLevelError TraceLevel = "error"
)

// TraceLogEntry is one line in a viewing session's trace log.
type TraceLogEntry struct {
	ID        string         `json:"id"`
	Level     TraceLevel     `json:"level"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// TraceLog is a bounded, append-only log of execution and editing events for
// one viewing session. When full, appending evicts the oldest entry first;
// the count saturates at the capacity instead of growing without bound.
// Not safe for concurrent use; each subscriber owns its own log.
type TraceLog struct {
	entries  []TraceLogEntry
	capacity int
}

// NewTraceLog creates a trace log with the given capacity. A non-positive
// capacity falls back to DefaultTraceLogCapacity.
func NewTraceLog(capacity int) *TraceLog {
	if capacity <= 0 {
		capacity = DefaultTraceLogCapacity
	}

	return &TraceLog{
		entries:  make([]TraceLogEntry, 0, capacity),
		capacity: capacity,
	}
}

// Append adds an entry, evicting the oldest one when the log is full.
func (t *TraceLog) Append(level TraceLevel, message string, data map[string]any) TraceLogEntry {
	entry := TraceLogEntry{
		ID:        uuid.New().String(),
		Level:     level,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	t.AppendEntry(entry)

	return entry
}

// AppendEntry adds a pre-built entry, used when replaying persisted history.
func (t *TraceLog) AppendEntry(entry TraceLogEntry) {
	if len(t.entries) == t.capacity {
		copy(t.entries, t.entries[1:])
		t.entries = t.entries[:t.capacity-1]
	}

	t.entries = append(t.entries, entry)
}

// Count returns the number of retained entries, at most the capacity.
func (t *TraceLog) Count() int {
	return len(t.entries)
}

// Capacity returns the configured bound.
func (t *TraceLog) Capacity() int {
	return t.capacity
}

// Entries returns a snapshot copy in append order, oldest first.
func (t *TraceLog) Entries() []TraceLogEntry {
	snapshot := make([]TraceLogEntry, len(t.entries))
	copy(snapshot, t.entries)

	return snapshot
}
