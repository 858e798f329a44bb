package testutil

import (
	"encoding/json"
	"fmt"

	"github.com/thruflo/autocoder/internal/state"
)

// SampleSpec is a small specification used by init tests.
const SampleSpec = `# Auth Service

Build a minimal authentication service.

## Requirements

- Users register with an email and password.
- Passwords are stored as bcrypt hashes.
- A login endpoint returns a signed session token.
`

// SampleBreakdownFenced is an analysis reply with a fenced json breakdown.
const SampleBreakdownFenced = "Here is the plan.\n\n```json\n" + `[
  {
    "title": "[AUTH-1.1] Create user model",
    "description": "Define the users table and model",
    "priority": 1,
    "acceptance_criteria": ["users table exists", "email is unique"]
  },
  {
    "title": "[AUTH-1.2] Hash passwords",
    "description": "bcrypt hashing helpers",
    "priority": 2,
    "acceptance_criteria": ["hashes verify"]
  },
  {
    "title": "[AUTH-2.1] Login endpoint",
    "description": "POST /login returns a token",
    "priority": 3,
    "acceptance_criteria": ["valid credentials return 200"]
  }
]
` + "```\n\nLet me know if you want changes.\n"

// SampleBreakdownJSON is a bare JSON reply wrapped in a "tasks" object.
const SampleBreakdownJSON = `{"tasks": [
  {"title": "[AUTH-1.1] Create user model", "priority": "1"},
  {"title": "[AUTH-2.1] Login endpoint", "priority": 2, "phase": 2}
]}`

// SampleBreakdownLines is a plain list reply.
const SampleBreakdownLines = `Tasks:

1. [AUTH-1.1] Create user model - Define the users table
   - users table exists
   - email is unique
2. [AUTH-1.2] Hash passwords: bcrypt helpers
3. [AUTH-2.1] Login endpoint
`

// SampleProse is a reply no extraction strategy accepts.
const SampleProse = `I think the service should start with a user model and then add login.
There is nothing else to say here.`

// AuthTasks returns the AUTH scenario. AUTH-2.1 has the most urgent
// priority but is gated behind phase 1.
func AuthTasks() []state.NewTask {
	return []state.NewTask{
		{
			Title:              "[AUTH-1.1] Create user model",
			Description:        "Define the users table and model",
			Priority:           2,
			AcceptanceCriteria: []string{"users table exists"},
			Origin:             state.OriginBreakdown,
		},
		{
			Title:       "[AUTH-1.2] Hash passwords",
			Description: "bcrypt hashing helpers",
			Priority:    3,
			Origin:      state.OriginBreakdown,
		},
		{
			Title:       "[AUTH-2.1] Login endpoint",
			Description: "POST /login returns a token",
			Priority:    1,
			Origin:      state.OriginBreakdown,
		},
	}
}

// turnReply mirrors the JSON block the runner reads from a turn.
type turnReply struct {
	Status           string          `json:"status"`
	Summary          string          `json:"summary,omitempty"`
	Reason           string          `json:"reason,omitempty"`
	Commands         []string        `json:"commands,omitempty"`
	NewTasks         []state.NewTask `json:"new_tasks,omitempty"`
	Uncertain        bool            `json:"uncertain,omitempty"`
	RegressionFailed bool            `json:"regression_failed,omitempty"`
}

func fenced(r turnReply) string {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		panic(err)
	}
	return fmt.Sprintf("Done with this turn.\n\n```json\n%s\n```\n", data)
}

// CompleteReply is a turn reply marking the task complete.
func CompleteReply(summary string) string {
	return fenced(turnReply{Status: "complete", Summary: summary})
}

// BlockedReply is a turn reply marking the task blocked.
func BlockedReply(reason string) string {
	return fenced(turnReply{Status: "blocked", Reason: reason})
}

// ContinueReply is a turn reply asking for another turn after running
// commands.
func ContinueReply(commands ...string) string {
	return fenced(turnReply{Status: "continue", Commands: commands})
}

// UncertainReply is a complete reply flagged as uncertain.
func UncertainReply(summary string) string {
	return fenced(turnReply{Status: "complete", Summary: summary, Uncertain: true})
}

// FollowupReply completes the task and proposes new tasks.
func FollowupReply(summary string, titles ...string) string {
	r := turnReply{Status: "complete", Summary: summary}
	for _, title := range titles {
		r.NewTasks = append(r.NewTasks, state.NewTask{Title: title})
	}
	return fenced(r)
}
