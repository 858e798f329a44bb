package state

import (
	"time"
)

// Status is the lifecycle status of a Task.
type Status string

// Status values for Task.Status.
const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
)

// AllStatuses lists every valid status.
var AllStatuses = []Status{StatusTodo, StatusInProgress, StatusBlocked, StatusDone}

// transitions is the allowed status graph.
var transitions = map[Status][]Status{
	StatusTodo:       {StatusInProgress},
	StatusInProgress: {StatusDone, StatusBlocked},
	StatusBlocked:    {StatusInProgress},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusBlocked, StatusDone:
		return true
	}
	return false
}

// IsTerminal reports whether s ends the task's work for a session.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusBlocked
}

// CanTransition reports whether a task may move from one status to another.
// Keeping the same status is not a transition and is always allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return from.IsValid()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Task origins.
const (
	OriginBreakdown = "breakdown"
	OriginFollowup  = "followup"
)

// Task is a unit of work pulled and executed by the runner.
type Task struct {
	ID                 string    `json:"id"`
	Title              string    `json:"title"`
	Description        string    `json:"description"`
	Status             Status    `json:"status"`
	Priority           int       `json:"priority"`
	Phase              string    `json:"phase,omitempty"`
	AcceptanceCriteria []string  `json:"acceptance_criteria"`
	UpdatedAt          time.Time `json:"updated_at"`
	SessionID          int       `json:"session_id,omitempty"`
	BlockedReason      string    `json:"blocked_reason,omitempty"`
	Meta               bool      `json:"meta,omitempty"`
	Origin             string    `json:"origin,omitempty"`
}

// TaskPatch is a partial update to a Task. Nil fields are left unchanged.
// When ExpectedStatus is set the update fails with a ConflictError unless the
// stored status matches it. ExpectedSessionID guards the owning session the
// same way, which is what makes adopting an in_progress task exclusive.
type TaskPatch struct {
	Status            *Status `json:"status,omitempty"`
	Title             *string `json:"title,omitempty"`
	Description       *string `json:"description,omitempty"`
	Priority          *int    `json:"priority,omitempty"`
	SessionID         *int    `json:"session_id,omitempty"`
	BlockedReason     *string `json:"blocked_reason,omitempty"`
	ExpectedStatus    *Status `json:"expected_status,omitempty"`
	ExpectedSessionID *int    `json:"expected_session_id,omitempty"`
}

// TaskFilter narrows ListTasks. Zero values match everything except meta
// tasks, which are only returned when IncludeMeta is set.
type TaskFilter struct {
	Statuses    []Status
	SessionID   int
	IncludeMeta bool
}

// Matches reports whether t passes the filter.
func (f TaskFilter) Matches(t *Task) bool {
	if t.Meta && !f.IncludeMeta {
		return false
	}
	if f.SessionID != 0 && t.SessionID != f.SessionID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if t.Status == s {
			return true
		}
	}
	return false
}

// Session is one continuous run of the runner. Ended sessions are immutable.
type Session struct {
	ID         int        `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	CostUSD    float64    `json:"cost_usd"`
	Turns      int        `json:"turns"`
	Summary    string     `json:"summary,omitempty"`
	ExitReason string     `json:"exit_reason,omitempty"`
}

// Ended reports whether the session has been closed.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// SessionEnd carries the values recorded when a session is closed.
type SessionEnd struct {
	Summary    string  `json:"summary"`
	CostUSD    float64 `json:"cost_usd"`
	Turns      int     `json:"turns"`
	ExitReason string  `json:"exit_reason"`
}

// Meta is the project-level aggregate record.
type Meta struct {
	ProjectName   string    `json:"project_name"`
	CreatedAt     time.Time `json:"created_at"`
	TaskCount     int       `json:"task_count"`
	Provider      string    `json:"provider"`
	SessionCount  int       `json:"session_count"`
	TotalTurns    int       `json:"total_turns"`
	TotalCostUSD  float64   `json:"total_cost_usd"`
	LastSummary   string    `json:"last_summary,omitempty"`
	LastSessionID int       `json:"last_session_id,omitempty"`
}

// MetaPatch updates the Meta record. Set fields replace stored values;
// AddTurns and AddCost are increments, so the turn total only grows.
type MetaPatch struct {
	ProjectName *string    `json:"project_name,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	TaskCount   *int       `json:"task_count,omitempty"`
	Provider    *string    `json:"provider,omitempty"`
	LastSummary *string    `json:"last_summary,omitempty"`
	AddTurns    int        `json:"add_turns,omitempty"`
	AddCost     float64    `json:"add_cost,omitempty"`
}

// Apply applies the patch to m.
func (p MetaPatch) Apply(m *Meta) {
	if p.ProjectName != nil {
		m.ProjectName = *p.ProjectName
	}
	if p.CreatedAt != nil {
		m.CreatedAt = *p.CreatedAt
	}
	if p.TaskCount != nil {
		m.TaskCount = *p.TaskCount
	}
	if p.Provider != nil {
		m.Provider = *p.Provider
	}
	if p.LastSummary != nil {
		m.LastSummary = *p.LastSummary
	}
	if p.AddTurns > 0 {
		m.TotalTurns += p.AddTurns
	}
	if p.AddCost > 0 {
		m.TotalCostUSD += p.AddCost
	}
}

// Counts summarizes task statuses.
type Counts struct {
	Total      int `json:"total"`
	Done       int `json:"done"`
	InProgress int `json:"in_progress"`
	Blocked    int `json:"blocked"`
	Todo       int `json:"todo"`
}

// CountTasks tallies non-meta tasks by status.
func CountTasks(tasks []Task) Counts {
	var c Counts
	for i := range tasks {
		if tasks[i].Meta {
			continue
		}
		c.Total++
		switch tasks[i].Status {
		case StatusDone:
			c.Done++
		case StatusInProgress:
			c.InProgress++
		case StatusBlocked:
			c.Blocked++
		default:
			c.Todo++
		}
	}
	return c
}

// NewTask carries the caller-supplied fields of a task to create.
type NewTask struct {
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	Priority           int      `json:"priority"`
	Phase              string   `json:"phase,omitempty"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	Meta               bool     `json:"meta,omitempty"`
	Origin             string   `json:"origin,omitempty"`
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
