package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/runner"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask a running session to stop",
	Long: `Writes .autocoder/STOP. A running session finishes the task it is on,
closes its session record and exits 0. The file is removed when the next
session starts.

Use 'autocoder start --resume' to continue later.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	basePath, err := getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	out := cmd.OutOrStdout()
	if runner.StopRequested(basePath) {
		fmt.Fprintf(out, "Stop already requested.\n")
		return nil
	}
	if err := runner.RequestStop(basePath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Stop requested; the session will end after the current task.\n")
	return nil
}
