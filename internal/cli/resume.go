package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/runner"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Show where a resumed session would pick up",
	Long: `Prints the recovery context without running anything: the last session,
the persisted turn total, tasks left in_progress by earlier sessions, and
the task a resumed session would start with.

Tasks held by a session that never ended are not adopted, since that
session may still be running. Use 'autocoder start --resume' to actually
continue, adding --take-over once the old process is known to be gone.`,
	Args: cobra.NoArgs,
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	p, err := loadProject()
	if err != nil {
		return err
	}
	prov, err := p.provider(ctx)
	if err != nil {
		return err
	}
	defer prov.Close()

	rec, err := runner.Recover(ctx, prov, p.basePath)
	if err != nil {
		return err
	}
	printRecovery(cmd.OutOrStdout(), rec)
	return nil
}

func printRecovery(out io.Writer, rec *runner.Recovery) {
	if s := rec.LastSession; s != nil {
		fmt.Fprintf(out, "Last session: %d (%s)\n", s.ID, s.StartedAt.Local().Format(time.DateTime))
		if s.Ended() {
			fmt.Fprintf(out, "  Ended: %s\n", s.ExitReason)
			if s.Summary != "" {
				fmt.Fprintf(out, "  %s\n", s.Summary)
			}
		} else {
			fmt.Fprintf(out, "  Not closed (process exited without ending the session)\n")
		}
	} else {
		fmt.Fprintf(out, "No sessions yet.\n")
	}
	fmt.Fprintf(out, "Turns so far: %d\n", rec.TurnTotal)
	fmt.Fprintf(out, "Tasks: %d done, %d in progress, %d blocked, %d todo\n",
		rec.Counts.Done, rec.Counts.InProgress, rec.Counts.Blocked, rec.Counts.Todo)

	if len(rec.Stale) > 0 {
		fmt.Fprintf(out, "\nLeft in progress:\n")
		for i := range rec.Stale {
			t := &rec.Stale[i]
			fmt.Fprintf(out, "  %s  %s (session %d)\n", t.ID, t.Title, t.SessionID)
		}
	}

	switch {
	case rec.AllDone:
		fmt.Fprintf(out, "\nAll tasks are done.\n")
	case rec.Next != nil:
		fmt.Fprintf(out, "\nNext: %s  %s [%s]\n", rec.Next.ID, rec.Next.Title, rec.NextKey)
	default:
		fmt.Fprintf(out, "\nNothing runnable.\n")
		for i := range rec.Blockers {
			t := &rec.Blockers[i]
			fmt.Fprintf(out, "  waiting on %s  %s (%s)", t.ID, t.Title, t.Status)
			if t.BlockedReason != "" {
				fmt.Fprintf(out, ": %s", t.BlockedReason)
			}
			fmt.Fprintln(out)
		}
	}

	if rec.StopPending {
		fmt.Fprintf(out, "\nA stop request is pending; it is cleared when the next session starts.\n")
	}
	if rec.HeldByOpen() {
		fmt.Fprintf(out, "\nSome tasks belong to a session that never ended. If that process is gone,\n")
		fmt.Fprintf(out, "run 'autocoder start --resume --take-over' to adopt them.\n")
	} else if rec.Next != nil && len(rec.Stale) > 0 {
		fmt.Fprintf(out, "\nRun 'autocoder start --resume' to continue %s.\n", rec.NextKey)
	}
}
