package runner

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/thruflo/autocoder/internal/state"
)

// Outcome classifies a model reply.
type Outcome int

const (
	OutcomeContinue Outcome = iota
	OutcomeComplete
	OutcomeBlocked
)

// String returns a human-readable representation of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeComplete:
		return "complete"
	case OutcomeBlocked:
		return "blocked"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ParseOutcome parses the status field of a reply block.
func ParseOutcome(s string) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "complete", "completed", "done":
		return OutcomeComplete, true
	case "blocked":
		return OutcomeBlocked, true
	case "continue", "in_progress":
		return OutcomeContinue, true
	default:
		return OutcomeContinue, false
	}
}

// Reply is the structured part of a model turn.
type Reply struct {
	Outcome          Outcome
	Summary          string
	Reason           string
	Commands         []string
	NewTasks         []state.NewTask
	Uncertain        bool
	RegressionFailed bool

	// Structured is false when the reply carried no parseable block and
	// was classified by keywords.
	Structured bool
}

type replyBlock struct {
	Status           string          `json:"status"`
	Summary          string          `json:"summary"`
	Reason           string          `json:"reason"`
	Commands         []string        `json:"commands"`
	NewTasks         []state.NewTask `json:"new_tasks"`
	Uncertain        bool            `json:"uncertain"`
	RegressionFailed bool            `json:"regression_failed"`
}

var (
	replyFence     = regexp.MustCompile("(?s)```(?:json)?[ \t]*\r?\n(.*?)```")
	blockedKeyword = regexp.MustCompile(`(?m)TASK BLOCKED:\s*(.*)$`)
)

// ParseReply reads the last fenced json block with a status field. Without
// one, "TASK BLOCKED: reason" and "TASK COMPLETE" are recognized; anything
// else continues.
func ParseReply(text string) Reply {
	matches := replyFence.FindAllStringSubmatch(text, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		var b replyBlock
		if err := json.Unmarshal([]byte(strings.TrimSpace(matches[i][1])), &b); err != nil {
			continue
		}
		outcome, ok := ParseOutcome(b.Status)
		if !ok {
			continue
		}
		r := Reply{
			Outcome:          outcome,
			Summary:          strings.TrimSpace(b.Summary),
			Reason:           strings.TrimSpace(b.Reason),
			NewTasks:         b.NewTasks,
			Uncertain:        b.Uncertain,
			RegressionFailed: b.RegressionFailed,
			Structured:       true,
		}
		for _, c := range b.Commands {
			if c = strings.TrimSpace(c); c != "" {
				r.Commands = append(r.Commands, c)
			}
		}
		if r.Outcome == OutcomeBlocked && r.Reason == "" {
			r.Reason = r.Summary
		}
		return r
	}

	if m := blockedKeyword.FindStringSubmatch(text); m != nil {
		reason := strings.TrimSpace(m[1])
		if reason == "" {
			reason = "model reported the task blocked"
		}
		return Reply{Outcome: OutcomeBlocked, Reason: reason}
	}
	if strings.Contains(text, "TASK COMPLETE") {
		return Reply{Outcome: OutcomeComplete, Summary: lastLine(text)}
	}
	return Reply{Outcome: OutcomeContinue}
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" && !strings.Contains(l, "TASK COMPLETE") {
			return l
		}
	}
	return ""
}
