// Package state owns persistence of tasks, sessions and the project meta
// record. All backing stores implement Provider; the runner never writes
// task state except through one.
package state

import (
	"context"
	"time"
)

// Provider is a persistent task/session store.
//
// GetTask and GetMeta return ErrNotFound when the record is absent.
// UpdateTask honours TaskPatch.ExpectedStatus and ExpectedSessionID and
// returns a *ConflictError when the stored record differs; these guards are
// the only concurrency primitive between runner processes sharing a store.
type Provider interface {
	Name() string

	CreateTask(ctx context.Context, task NewTask) (string, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)

	GetMeta(ctx context.Context) (*Meta, error)
	UpdateMeta(ctx context.Context, patch MetaPatch) (*Meta, error)

	StartSession(ctx context.Context) (*Session, error)
	EndSession(ctx context.Context, id int, end SessionEnd) error
	ListSessions(ctx context.Context) ([]Session, error)

	ProgressSummary(ctx context.Context) (Counts, error)

	Close() error
}

// applyPatch validates and applies patch to t in place.
func applyPatch(t *Task, patch TaskPatch, now time.Time) error {
	if patch.ExpectedStatus != nil && t.Status != *patch.ExpectedStatus {
		return &ConflictError{TaskID: t.ID, Expected: *patch.ExpectedStatus, Actual: t.Status}
	}
	if patch.ExpectedSessionID != nil && t.SessionID != *patch.ExpectedSessionID {
		return &ConflictError{
			TaskID:          t.ID,
			Expected:        t.Status,
			Actual:          t.Status,
			Owner:           true,
			ExpectedSession: *patch.ExpectedSessionID,
			ActualSession:   t.SessionID,
		}
	}
	if patch.Status != nil {
		if !CanTransition(t.Status, *patch.Status) {
			return &TransitionError{TaskID: t.ID, From: t.Status, To: *patch.Status}
		}
		if t.Status == StatusBlocked && *patch.Status != StatusBlocked && patch.BlockedReason == nil {
			t.BlockedReason = ""
		}
		t.Status = *patch.Status
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.Priority != nil {
		t.Priority = *patch.Priority
	}
	if patch.SessionID != nil {
		t.SessionID = *patch.SessionID
	}
	if patch.BlockedReason != nil {
		t.BlockedReason = *patch.BlockedReason
	}
	t.UpdatedAt = now
	return nil
}

// newTaskRecord builds a stored Task from caller data.
func newTaskRecord(id string, nt NewTask, now time.Time) Task {
	var criteria []string
	if nt.AcceptanceCriteria != nil {
		criteria = append([]string{}, nt.AcceptanceCriteria...)
	}
	origin := nt.Origin
	if origin == "" {
		origin = OriginBreakdown
	}
	return Task{
		ID:                 id,
		Title:              nt.Title,
		Description:        nt.Description,
		Status:             StatusTodo,
		Priority:           nt.Priority,
		Phase:              nt.Phase,
		AcceptanceCriteria: criteria,
		UpdatedAt:          now,
		Meta:               nt.Meta,
		Origin:             origin,
	}
}

// nowFunc is overridden in tests.
var nowFunc = func() time.Time { return time.Now().UTC() }
