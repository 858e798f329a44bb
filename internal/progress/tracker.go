// Package progress keeps running task counters for a session, renders them,
// and pushes significant events to notification sinks.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/thruflo/autocoder/internal/state"
)

// EventKind is a task or session lifecycle event.
type EventKind int

const (
	TaskStarted EventKind = iota
	TaskCompleted
	BlockerDetected
	SessionEnded
	TaskCreated
)

// String returns a human-readable representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case TaskStarted:
		return "task_started"
	case TaskCompleted:
		return "task_completed"
	case BlockerDetected:
		return "blocker_detected"
	case SessionEnded:
		return "session_ended"
	case TaskCreated:
		return "task_created"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Significant reports whether events of this kind are pushed to sinks.
func (k EventKind) Significant() bool {
	switch k {
	case TaskCompleted, BlockerDetected, SessionEnded:
		return true
	default:
		return false
	}
}

// Event is one lifecycle event.
type Event struct {
	Kind   EventKind
	TaskID string
	Title  string
	// From is the task status before a TaskStarted event.
	From state.Status
	// Detail carries a blocker reason or session summary.
	Detail string
	At     time.Time
}

// Counters are the running task totals.
type Counters struct {
	Total      int
	Done       int
	Active     int
	Blocked    int
	NotStarted int
}

// Percent returns the share of done tasks, 0 to 100.
func (c Counters) Percent() int {
	if c.Total == 0 {
		return 0
	}
	return c.Done * 100 / c.Total
}

// FromCounts converts provider counts.
func FromCounts(c state.Counts) Counters {
	return Counters{
		Total:      c.Total,
		Done:       c.Done,
		Active:     c.InProgress,
		Blocked:    c.Blocked,
		NotStarted: c.Todo,
	}
}

// Tracker maintains Counters from lifecycle events. It is safe for
// concurrent use.
type Tracker struct {
	mu          sync.Mutex
	counters    Counters
	lastSummary string
	observers   []func(Event, Counters)
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Seed replaces the counters with a provider snapshot.
func (t *Tracker) Seed(c state.Counts) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters = FromCounts(c)
}

// Subscribe registers fn to be called after every observed event.
func (t *Tracker) Subscribe(fn func(Event, Counters)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, fn)
}

// Observe applies an event to the counters.
func (t *Tracker) Observe(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	t.mu.Lock()
	c := &t.counters
	switch ev.Kind {
	case TaskStarted:
		switch ev.From {
		case state.StatusBlocked:
			dec(&c.Blocked)
			c.Active++
		case state.StatusInProgress:
			// Adopted from an earlier session; already counted as active.
		default:
			dec(&c.NotStarted)
			c.Active++
		}
	case TaskCompleted:
		dec(&c.Active)
		c.Done++
	case BlockerDetected:
		dec(&c.Active)
		c.Blocked++
	case TaskCreated:
		c.Total++
		c.NotStarted++
	case SessionEnded:
		t.lastSummary = ev.Detail
	}
	snapshot := t.counters
	observers := append([]func(Event, Counters){}, t.observers...)
	t.mu.Unlock()

	for _, fn := range observers {
		fn(ev, snapshot)
	}
}

func dec(n *int) {
	if *n > 0 {
		*n--
	}
}

// Snapshot returns the current counters.
func (t *Tracker) Snapshot() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// LastSummary returns the summary of the last SessionEnded event.
func (t *Tracker) LastSummary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastSummary
}
