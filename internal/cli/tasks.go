package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/queue"
	"github.com/thruflo/autocoder/internal/state"
)

var (
	tasksStatus []string
	tasksMeta   bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List tasks in execution order",
	Long: `Lists tasks in the order the runner picks them: by phase and sequence
taken from "[PREFIX-P.S]" titles, then by priority.

Example:
  autocoder tasks
  autocoder tasks --status blocked
  autocoder tasks --status todo,in_progress`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().StringSliceVar(&tasksStatus, "status", nil, "only show these statuses")
	tasksCmd.Flags().BoolVar(&tasksMeta, "meta", false, "include the project marker task")
	rootCmd.AddCommand(tasksCmd)
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	filter := state.TaskFilter{IncludeMeta: tasksMeta}
	for _, s := range tasksStatus {
		st := state.Status(s)
		if !st.IsValid() {
			return fmt.Errorf("unknown status %q (want todo, in_progress, blocked or done)", s)
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	prov, _, release, err := readProvider(ctx)
	if err != nil {
		return err
	}
	defer release()

	tasks, err := prov.ListTasks(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to list tasks: %w", err)
	}
	return printTasks(cmd.OutOrStdout(), tasks)
}

func printTasks(out io.Writer, tasks []state.Task) error {
	if len(tasks) == 0 {
		fmt.Fprintln(out, "No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tSTATUS\tPRIORITY\tTITLE")
	for _, t := range queue.Sorted(tasks) {
		title := t.Title
		if t.Status == state.StatusBlocked && t.BlockedReason != "" {
			title += " (" + t.BlockedReason + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", shortID(t.ID), queue.ParseKey(&t), t.Status, t.Priority, title)
	}
	return w.Flush()
}

// shortID trims uuid task ids for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
