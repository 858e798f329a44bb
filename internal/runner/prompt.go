package runner

import (
	"fmt"
	"strings"

	"github.com/thruflo/autocoder/internal/state"
)

// StandingInstructions is the system prompt of every task turn.
const StandingInstructions = `You are implementing exactly one task of a larger project.
Work only on the task below. You have no memory of other tasks.
To run shell commands, list them in "commands"; their output is shown to you on the next turn.
End every reply with a fenced json block:

` + "```json" + `
{"status": "complete|blocked|continue", "summary": "", "reason": "", "commands": [],
 "new_tasks": [], "uncertain": false, "regression_failed": false}
` + "```" + `

Use "complete" only when every acceptance criterion is met, "blocked" with a reason when the
task cannot proceed, and "continue" when you need another turn. Set "regression_failed" if
previously passing tests now fail and "uncertain" if you are unsure the work is correct.`

// Exchange is one turn of a task's own transcript.
type Exchange struct {
	Reply  string
	Output []CommandResult
}

// BuildPrompt renders the prompt for the next turn of task. The prompt holds
// the task and its own transcript only.
func BuildPrompt(task *state.Task, transcript []Exchange, turn, maxTurns int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("\nAcceptance criteria:\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	if task.BlockedReason != "" && task.Status == state.StatusInProgress {
		fmt.Fprintf(&b, "\nThis task was interrupted earlier: %s\n", task.BlockedReason)
	}

	for i, ex := range transcript {
		fmt.Fprintf(&b, "\n--- Turn %d reply ---\n%s\n", i+1, strings.TrimSpace(ex.Reply))
		for _, out := range ex.Output {
			fmt.Fprintf(&b, "\n$ %s\n", out.Command)
			if out.Denied != "" {
				fmt.Fprintf(&b, "[denied: %s]\n", out.Denied)
				continue
			}
			if out.Output != "" {
				fmt.Fprintf(&b, "%s\n", strings.TrimRight(out.Output, "\n"))
			}
			fmt.Fprintf(&b, "[exit %d]\n", out.ExitCode)
		}
	}

	fmt.Fprintf(&b, "\nThis is turn %d of at most %d.\n", turn, maxTurns)
	return b.String()
}
