package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/approval"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/progress"
	"github.com/thruflo/autocoder/internal/runner"
	"github.com/thruflo/autocoder/internal/state"
)

var (
	startResume   bool
	startTakeOver bool
)

// approvalStdin is the terminal approval channel's input. Tests set it to
// nil so no channel reads from the real stdin.
var approvalStdin = os.Stdin

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run one session of the task loop",
	Long: `Runs tasks one at a time until every task is done, nothing is runnable,
a session limit is reached, a checkpoint pauses or aborts, or a stop is
requested with Ctrl+C or 'autocoder stop'.

Every planned stop exits 0 so the session can be resumed later. Only a
state provider or backend that keeps failing exits non-zero.

With --resume, tasks left in_progress by an earlier session are adopted
before any new task is started. Tasks held by a session that never ended
are left alone, since another process may still be working on them; add
--take-over once that process is known to be gone.

Example:
  autocoder start
  autocoder start --resume
  autocoder start --resume --take-over
  autocoder start --config ci.yaml`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startResume, "resume", false, "adopt tasks left in_progress by an earlier session")
	startCmd.Flags().BoolVar(&startTakeOver, "take-over", false, "with --resume, also adopt tasks of sessions that never ended")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, tracker, err := startSession(ctx, cmd.OutOrStdout(), startResume, startTakeOver)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	printResult(out, res)
	fmt.Fprintf(out, "\n%s", progress.Render(tracker.Snapshot(), progress.DefaultBarWidth))

	if code := res.Reason.ExitCode(); code != 0 {
		err := fmt.Errorf("session ended: %s", res.Reason)
		if res.Error != nil {
			err = fmt.Errorf("session ended: %s: %w", res.Reason, res.Error)
		}
		return &ExitError{Code: code, Err: err}
	}
	return nil
}

// startSession wires the runner from config and runs one session.
func startSession(ctx context.Context, out io.Writer, resume, takeOver bool) (runner.Result, *progress.Tracker, error) {
	p, err := loadProject()
	if err != nil {
		return runner.Result{}, nil, err
	}
	if err := p.teeLogs(); err != nil {
		return runner.Result{}, nil, err
	}
	defer p.close()

	if !state.MarkerExists(p.basePath) {
		return runner.Result{}, nil, fmt.Errorf("project not initialized (run 'autocoder init --spec FILE' first)")
	}

	prov, err := p.provider(ctx)
	if err != nil {
		return runner.Result{}, nil, err
	}
	defer prov.Close()

	b, err := p.backend()
	if err != nil {
		return runner.Result{}, nil, fmt.Errorf("failed to build backend: %w", err)
	}

	handler, err := approval.FromConfig(p.cfg, p.basePath, approval.Options{
		Stdin:  approvalStdin,
		Stdout: out,
		Logger: p.logger,
	})
	if err != nil {
		return runner.Result{}, nil, fmt.Errorf("failed to configure approvals: %w", err)
	}

	metrics := progress.NewMetrics()
	if addr := p.cfg.MetricsAddr; addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr); err != nil {
				p.logger.Warn("metrics server stopped", "addr", addr, "error", err)
			}
		}()
	}

	r, err := runner.New(runner.Options{
		BasePath: p.basePath,
		Config:   p.cfg,
		Provider: prov,
		Backend:  b,
		Approval: handler,
		Metrics:  metrics,
		Notifier: progress.NotifierFromConfig(p.cfg, p.logger),
		Logger:   p.logger,
		Resume:   resume,
		TakeOver: takeOver,
	})
	if err != nil {
		return runner.Result{}, nil, err
	}

	fmt.Fprintf(out, "Starting session (mode: %s, backend: %s, provider: %s)\n", p.cfg.Mode, b.Name(), prov.Name())
	if p.cfg.Mode != config.ModeAutonomous {
		fmt.Fprintf(out, "Approval channels: %v (timeout %.0fm, default %s)\n",
			handler.Channels(), p.cfg.Approval.TimeoutMinutes, p.cfg.Approval.DefaultAction)
	}
	return r.Run(ctx), r.Tracker(), nil
}

func printResult(out io.Writer, res runner.Result) {
	fmt.Fprintf(out, "Session %d ended: %s\n", res.Session.SessionID, res.Reason)
	fmt.Fprintf(out, "  %s\n", res.Summary)
	if res.Reason.LimitExceeded() {
		fmt.Fprintf(out, "  Limit reached; run 'autocoder start --resume' to continue.\n")
	}
	if len(res.Blockers) > 0 {
		fmt.Fprintf(out, "  Waiting on: %v\n", res.Blockers)
	}
	if res.Error != nil {
		fmt.Fprintf(out, "  Error: %v\n", res.Error)
	}
}
