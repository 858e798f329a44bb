package state

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict is returned when an expected-status guard fails.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when a task or session does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition is returned for a status change outside the graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrSessionEnded is returned when ending a session twice.
	ErrSessionEnded = errors.New("session already ended")
)

// ConflictError describes a failed expected-status or expected-owner guard.
// Owner is set when the status matched but the owning session did not.
type ConflictError struct {
	TaskID   string
	Expected Status
	Actual   Status

	Owner           bool
	ExpectedSession int
	ActualSession   int
}

func (e *ConflictError) Error() string {
	if e.Owner {
		return fmt.Sprintf("conflict on task %s: expected owner session %d, found %d", e.TaskID, e.ExpectedSession, e.ActualSession)
	}
	return fmt.Sprintf("conflict on task %s: expected status %s, found %s", e.TaskID, e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict reports whether err is an expected-status conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// ProviderError wraps a failure talking to the backing store.
type ProviderError struct {
	Op        string
	Err       error
	Transient bool
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s failed (%s): %v", e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a ProviderError that may succeed on retry.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// IsProviderError reports whether err is a ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
