package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/progress"
	"github.com/thruflo/autocoder/internal/runner"
	"github.com/thruflo/autocoder/internal/state"
)

// statusProvider is the provider read by the status and tasks commands.
// It can be overridden in tests.
var statusProvider state.Provider

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project progress",
	Long: `Shows task progress as counts and a bar, the persisted totals from the
meta record, and the outcome of the last session.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

// readProvider returns the status seam or opens the configured provider.
// The returned func releases it.
func readProvider(ctx context.Context) (state.Provider, string, func(), error) {
	if statusProvider != nil {
		basePath, err := getwd()
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		return statusProvider, basePath, func() {}, nil
	}
	p, err := loadProject()
	if err != nil {
		return nil, "", nil, err
	}
	prov, err := p.provider(ctx)
	if err != nil {
		return nil, "", nil, err
	}
	return prov, p.basePath, func() { _ = prov.Close() }, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	prov, basePath, release, err := readProvider(ctx)
	if err != nil {
		return err
	}
	defer release()

	return showStatus(ctx, cmd.OutOrStdout(), prov, basePath)
}

func showStatus(ctx context.Context, out io.Writer, prov state.Provider, basePath string) error {
	meta, err := prov.GetMeta(ctx)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		return fmt.Errorf("failed to read meta record: %w", err)
	}
	if meta == nil || !state.MarkerExists(basePath) {
		fmt.Fprintf(out, "Project not initialized. Run 'autocoder init --spec FILE'.\n")
		return nil
	}

	counts, err := prov.ProgressSummary(ctx)
	if err != nil {
		return fmt.Errorf("failed to read progress: %w", err)
	}

	fmt.Fprintf(out, "Project:  %s\n", meta.ProjectName)
	fmt.Fprintf(out, "Provider: %s\n", prov.Name())
	if !meta.CreatedAt.IsZero() {
		fmt.Fprintf(out, "Created:  %s\n", meta.CreatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintf(out, "Sessions: %d  Turns: %d  Cost: $%.2f\n\n", meta.SessionCount, meta.TotalTurns, meta.TotalCostUSD)
	fmt.Fprint(out, progress.Render(progress.FromCounts(counts), progress.DefaultBarWidth))

	sessions, err := prov.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) > 0 {
		last := sessions[len(sessions)-1]
		fmt.Fprintf(out, "\nLast session: %d", last.ID)
		if last.Ended() {
			fmt.Fprintf(out, " (%s)\n  %s\n", last.ExitReason, last.Summary)
		} else {
			fmt.Fprintf(out, " (running or interrupted)\n")
		}
	}
	if runner.StopRequested(basePath) {
		fmt.Fprintf(out, "\nStop requested.\n")
	}
	return nil
}
