package runner

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/thruflo/autocoder/internal/config"
)

// ExitReason indicates why a session stopped.
type ExitReason int

const (
	ExitDone            ExitReason = iota // Every task is done
	ExitNothingRunnable                   // Unfinished tasks remain but none is eligible
	ExitLimitCost                         // Session cost ceiling reached
	ExitLimitTasks                        // Session task ceiling reached
	ExitPaused                            // A checkpoint resolved to pause
	ExitAborted                           // A checkpoint resolved to abort
	ExitStopped                           // Signal or STOP file
	ExitProviderFailure                   // State provider or backend kept failing
)

// String returns the exit reason as recorded on the session.
func (r ExitReason) String() string {
	switch r {
	case ExitDone:
		return "done"
	case ExitNothingRunnable:
		return "nothing_runnable"
	case ExitLimitCost:
		return "limit_cost"
	case ExitLimitTasks:
		return "limit_tasks"
	case ExitPaused:
		return "paused"
	case ExitAborted:
		return "aborted"
	case ExitStopped:
		return "stopped"
	case ExitProviderFailure:
		return "provider_failure"
	default:
		return fmt.Sprintf("ExitReason(%d)", int(r))
	}
}

// LimitExceeded reports whether the session ended on a ceiling.
func (r ExitReason) LimitExceeded() bool {
	return r == ExitLimitCost || r == ExitLimitTasks
}

// ExitCode maps the reason to a process exit code. Every planned stop is 0
// so a supervisor can resume later.
func (r ExitReason) ExitCode() int {
	if r == ExitProviderFailure {
		return 1
	}
	return 0
}

// SessionContext accumulates the session's counters. It is threaded through
// the loop instead of living in package state.
type SessionContext struct {
	SessionID      int
	StartedAt      time.Time
	CostUSD        float64
	Turns          int
	TasksAttempted int
	TasksCompleted int
	TasksBlocked   int
	TasksCreated   int
}

// Summary renders the session for its record.
func (s *SessionContext) Summary(reason ExitReason) string {
	return fmt.Sprintf("session %d %s: %d attempted, %d completed, %d blocked, %d turns, $%.2f",
		s.SessionID, reason, s.TasksAttempted, s.TasksCompleted, s.TasksBlocked, s.Turns, s.CostUSD)
}

// Result is the outcome of Runner.Run.
type Result struct {
	Reason   ExitReason
	Session  SessionContext
	Summary  string
	Blockers []string
	Error    error
}

// StopFileName is written by "autocoder stop".
const StopFileName = "STOP"

// StopPath returns the stop file location for a project.
func StopPath(basePath string) string {
	return filepath.Join(basePath, config.DirName, StopFileName)
}

// RequestStop asks a running session to stop at the top of its next
// iteration.
func RequestStop(basePath string) error {
	path := StopPath(basePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", config.DirName, err)
	}
	if err := os.WriteFile(path, []byte(time.Now().UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write stop file: %w", err)
	}
	return nil
}

// StopRequested reports whether the stop file exists.
func StopRequested(basePath string) bool {
	_, err := os.Stat(StopPath(basePath))
	return err == nil
}

// ClearStop removes a stale stop file.
func ClearStop(basePath string) error {
	if err := os.Remove(StopPath(basePath)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stop file: %w", err)
	}
	return nil
}
