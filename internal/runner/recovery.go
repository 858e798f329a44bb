package runner

import (
	"context"
	"errors"
	"fmt"

	"github.com/thruflo/autocoder/internal/queue"
	"github.com/thruflo/autocoder/internal/state"
)

// Recovery is what a resumed session would start from.
type Recovery struct {
	Meta        *state.Meta
	LastSession *state.Session
	TurnTotal   int
	Counts      state.Counts
	// Stale are in_progress tasks left by earlier sessions.
	Stale []state.Task
	// Open are sessions that never ended. A resumed session leaves their
	// tasks alone unless it takes over.
	Open     []int
	Next     *state.Task
	NextKey  queue.Key
	Blockers []state.Task
	AllDone  bool
	// StopPending is set when a stop file is waiting to be cleared.
	StopPending bool
}

// Recover reads the recovery context without changing any state.
func Recover(ctx context.Context, p state.Provider, basePath string) (*Recovery, error) {
	rec := &Recovery{StopPending: StopRequested(basePath)}

	meta, err := p.GetMeta(ctx)
	switch {
	case err == nil:
		rec.Meta = meta
		rec.TurnTotal = meta.TotalTurns
	case errors.Is(err, state.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to read meta record: %w", err)
	}

	sessions, err := p.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) > 0 {
		last := sessions[len(sessions)-1]
		rec.LastSession = &last
	}
	live := make(map[int]bool)
	for i := range sessions {
		if !sessions[i].Ended() {
			live[sessions[i].ID] = true
			rec.Open = append(rec.Open, sessions[i].ID)
		}
	}

	tasks, err := p.ListTasks(ctx, state.TaskFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	rec.Counts = state.CountTasks(tasks)

	byID := make(map[string]state.Task, len(tasks))
	for _, t := range queue.Sorted(tasks) {
		byID[t.ID] = t
		if t.Status == state.StatusInProgress {
			rec.Stale = append(rec.Stale, t)
		}
	}

	sel := queue.Select(tasks, queue.Options{AdoptInProgress: true, Live: live})
	rec.AllDone = sel.AllDone
	if sel.Next != nil {
		next := *sel.Next
		rec.Next = &next
		rec.NextKey = sel.Key
	}
	for _, id := range sel.Blockers {
		if t, ok := byID[id]; ok {
			rec.Blockers = append(rec.Blockers, t)
		}
	}
	return rec, nil
}

// HeldByOpen reports whether any stale task belongs to a session that never
// ended.
func (r *Recovery) HeldByOpen() bool {
	for _, t := range r.Stale {
		for _, id := range r.Open {
			if t.SessionID == id {
				return true
			}
		}
	}
	return false
}
