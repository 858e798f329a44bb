// Package checkpoint decides when the runner must stop and ask for approval.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/thruflo/autocoder/internal/config"
)

// Trigger identifies why a checkpoint fired.
type Trigger int

const (
	TriggerTurnInterval Trigger = iota
	TriggerNewTask
	TriggerPhaseComplete
	TriggerRegression
	TriggerBlocker
	TriggerUncertainty
)

// AllTriggers lists every trigger in declaration order.
var AllTriggers = []Trigger{
	TriggerTurnInterval,
	TriggerNewTask,
	TriggerPhaseComplete,
	TriggerRegression,
	TriggerBlocker,
	TriggerUncertainty,
}

// String returns a human-readable representation of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerTurnInterval:
		return "turn_interval"
	case TriggerNewTask:
		return "new_task"
	case TriggerPhaseComplete:
		return "phase_complete"
	case TriggerRegression:
		return "regression"
	case TriggerBlocker:
		return "blocker"
	case TriggerUncertainty:
		return "uncertainty"
	default:
		return fmt.Sprintf("Trigger(%d)", int(t))
	}
}

// Event is a fired checkpoint.
type Event struct {
	Trigger Trigger
	TaskID  string
	Detail  string
	At      time.Time
}

// Policy holds which triggers are armed and the turn interval.
type Policy struct {
	TurnInterval int
	Armed        map[Trigger]bool
}

// NewPolicy builds a Policy from a mode preset.
func NewPolicy(p config.ModePreset) Policy {
	return Policy{
		TurnInterval: p.TurnInterval,
		Armed: map[Trigger]bool{
			TriggerTurnInterval:  p.TurnInterval > 0,
			TriggerNewTask:       p.BeforeNewTask,
			TriggerPhaseComplete: p.AfterPhase,
			TriggerRegression:    p.OnRegression,
			TriggerBlocker:       p.OnBlocker,
			TriggerUncertainty:   p.OnUncertainty,
		},
	}
}

// FromConfig builds the Policy for cfg's mode and overrides.
func FromConfig(cfg *config.Config) Policy {
	return NewPolicy(cfg.EffectivePreset())
}

// IsArmed reports whether t fires under this policy.
func (p Policy) IsArmed(t Trigger) bool {
	return p.Armed[t]
}

// TurnCheckpoint reports whether reaching turn fires the interval trigger.
// With an interval of 25 it fires on turns 25, 50, 75 and no others.
func (p Policy) TurnCheckpoint(turn int) bool {
	return p.TurnInterval > 0 && turn > 0 && turn%p.TurnInterval == 0
}

// Fire returns an Event for t if it is armed.
func (p Policy) Fire(t Trigger, taskID, detail string) (Event, bool) {
	if !p.IsArmed(t) {
		return Event{}, false
	}
	return Event{Trigger: t, TaskID: taskID, Detail: detail, At: time.Now()}, true
}

// TurnCounter counts turns across sessions. It starts from the persisted
// total and never decreases.
type TurnCounter struct {
	total int
}

// NewTurnCounter resumes counting from persisted.
func NewTurnCounter(persisted int) *TurnCounter {
	if persisted < 0 {
		persisted = 0
	}
	return &TurnCounter{total: persisted}
}

// Increment records one turn and returns the new total.
func (c *TurnCounter) Increment() int {
	c.total++
	return c.total
}

// Total returns the number of turns counted so far.
func (c *TurnCounter) Total() int {
	return c.total
}
