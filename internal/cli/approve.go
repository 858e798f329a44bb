package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/approval"
)

var approveReject bool

var approveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Answer a pending checkpoint",
	Long: `Answers a checkpoint waiting on the file approval channel. Without an
id, lists the pending requests.

Approving lets the session continue; rejecting pauses it. A request
nobody answers resolves to approval.default_action when
approval.timeout_minutes runs out.

Example:
  autocoder approve
  autocoder approve 3f1c9a2e-...
  autocoder approve 3f1c9a2e-... --reject`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApprove,
}

func init() {
	approveCmd.Flags().BoolVar(&approveReject, "reject", false, "reject instead of approve")
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	basePath, err := getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	dir := approval.Dir(basePath)
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		pending, err := approval.Pending(dir)
		if err != nil {
			return err
		}
		return printPending(out, pending)
	}

	decision := approval.Approve
	if approveReject {
		decision = approval.Reject
	}
	if err := approval.Respond(dir, args[0], decision); err != nil {
		return err
	}
	fmt.Fprintf(out, "Request %s: %s\n", args[0], decision)
	return nil
}

func printPending(out io.Writer, pending []approval.PendingRequest) error {
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTRIGGER\tAGE\tSUMMARY")
	for _, r := range pending {
		age := time.Since(r.CreatedAt).Round(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Trigger, age, r.Summary)
	}
	return w.Flush()
}
