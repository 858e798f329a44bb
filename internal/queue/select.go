package queue

import (
	"github.com/thruflo/autocoder/internal/state"
)

// Options tunes Select.
type Options struct {
	// Exclude holds task ids to skip, such as tasks lost to a conflicting
	// claim earlier in the session.
	Exclude map[string]bool
	// AdoptInProgress makes stale in_progress tasks candidates. They are
	// preferred over todo tasks.
	AdoptInProgress bool
	// Live holds ids of sessions still running. Their in_progress tasks are
	// never adopted.
	Live map[int]bool
}

// Selection is the outcome of Select.
type Selection struct {
	// Next is the task to run, or nil if nothing is runnable.
	Next *state.Task
	// Key is Next's key.
	Key Key
	// Blockers lists ids of unfinished tasks that gate the remaining work
	// when Next is nil.
	Blockers []string
	// AllDone is set when every non-meta task is done.
	AllDone bool
}

// Gate returns the ids of tasks that must be done before t may run:
// every task in a lower phase and every task earlier in the same phase.
// Meta tasks never gate.
func Gate(t *state.Task, tasks []state.Task) []string {
	k := ParseKey(t)
	if k.Kind == KindMeta {
		return nil
	}

	var blockers []string
	for i := range tasks {
		other := &tasks[i]
		if other.ID == t.ID || other.Status == state.StatusDone || IsMeta(other) {
			continue
		}
		ok := ParseKey(other)
		switch c := comparePhase(ok, k); {
		case c < 0:
			blockers = append(blockers, other.ID)
		case c == 0 && k.Kind != KindFallback && ok.Sequence < k.Sequence:
			blockers = append(blockers, other.ID)
		}
	}
	return blockers
}

// Select picks the first eligible task by key order. If none is eligible it
// reports the unfinished tasks standing in the way.
func Select(tasks []state.Task, opts Options) Selection {
	ordered := Sorted(tasks)

	allDone := true
	for i := range ordered {
		if !IsMeta(&ordered[i]) && ordered[i].Status != state.StatusDone {
			allDone = false
			break
		}
	}
	if allDone {
		return Selection{AllDone: true}
	}

	candidate := func(t *state.Task) bool {
		if IsMeta(t) || opts.Exclude[t.ID] {
			return false
		}
		if t.Status == state.StatusTodo {
			return true
		}
		return opts.AdoptInProgress && t.Status == state.StatusInProgress && !opts.Live[t.SessionID]
	}

	if opts.AdoptInProgress {
		for i := range ordered {
			t := &ordered[i]
			if t.Status == state.StatusInProgress && candidate(t) && len(Gate(t, ordered)) == 0 {
				return Selection{Next: t, Key: ParseKey(t)}
			}
		}
	}

	seen := make(map[string]bool)
	var blockers []string
	addBlockers := func(ids []string) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				blockers = append(blockers, id)
			}
		}
	}

	for i := range ordered {
		t := &ordered[i]
		if !candidate(t) {
			continue
		}
		gate := Gate(t, ordered)
		if len(gate) == 0 {
			return Selection{Next: t, Key: ParseKey(t)}
		}
		addBlockers(gate)
	}

	// Nothing runnable. If no candidate existed at all, the unfinished
	// non-candidates are what stands in the way.
	if len(blockers) == 0 {
		for i := range ordered {
			t := &ordered[i]
			if !IsMeta(t) && t.Status != state.StatusDone && !candidate(t) {
				addBlockers([]string{t.ID})
			}
		}
	}
	return Selection{Blockers: blockers}
}
