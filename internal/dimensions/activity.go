package dimensions

import (
	"sync"
	"time"
	"unicode/utf8"
)

// ActivityCapacity is how many recent outcomes the activity log keeps.
const ActivityCapacity = 100

// maxActivityURL is the longest URL stored in an activity entry.
const maxActivityURL = 80

// Outcome of one resolved item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

// ActivityEntry records what happened to one pin.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	PinID     int64     `json:"pinId"`
	URL       string    `json:"url"`
	Outcome   Outcome   `json:"outcome"`
	Width     *int      `json:"width"`
	Height    *int      `json:"height"`
	Error     *string   `json:"error"`
}

// ActivityLog is a fixed-size ring of recent entries. When full, a new entry
// replaces the oldest one.
type ActivityLog struct {
	mu      sync.Mutex
	entries []ActivityEntry
	next    int
	size    int
}

// NewActivityLog creates a log holding at most capacity entries.
func NewActivityLog(capacity int) *ActivityLog {
	if capacity <= 0 {
		capacity = ActivityCapacity
	}
	return &ActivityLog{entries: make([]ActivityEntry, capacity)}
}

// Add appends an entry, truncating its URL.
func (l *ActivityLog) Add(e ActivityEntry) {
	e.URL = truncateURL(e.URL)

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.size < len(l.entries) {
		l.size++
	}
}

// Entries returns a copy of the log, newest first.
func (l *ActivityLog) Entries() []ActivityEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]ActivityEntry, 0, l.size)
	for i := 1; i <= l.size; i++ {
		idx := (l.next - i + len(l.entries)) % len(l.entries)
		out = append(out, l.entries[idx])
	}
	return out
}

// Len returns the number of entries held.
func (l *ActivityLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Reset empties the log.
func (l *ActivityLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next = 0
	l.size = 0
}

func truncateURL(u string) string {
	if len(u) <= maxActivityURL {
		return u
	}
	cut := maxActivityURL - 3
	for cut > 0 && !utf8.RuneStart(u[cut]) {
		cut--
	}
	return u[:cut] + "..."
}
