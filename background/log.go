package background

import (
	"sync"
	"time"
)

// Event is one entry of a Log.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
	At   time.Time      `json:"at"`
}

// Log is an append-only event store shared by concurrent pipelines.
type Log struct {
	mu     sync.RWMutex
	events []Event
	now    func() time.Time
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append records an event and returns its position.
func (l *Log) Append(name string, data map[string]any) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, Event{Name: name, Data: data, At: l.now()})
	return len(l.events) - 1
}

// Snapshot returns a copy of the events recorded so far.
func (l *Log) Snapshot() []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}
