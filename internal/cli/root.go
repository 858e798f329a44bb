package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

// configFile is the --config flag shared by every command.
var configFile string

var rootCmd = &cobra.Command{
	Use:   "autocoder",
	Short: "Autonomous runner that works through a spec one task at a time",
	Long: `Autocoder turns a specification into an ordered task breakdown, then
runs a coding agent against one task at a time with a fresh context per
task, gating risky moments behind checkpoints and every proposed shell
command behind a security policy.

Typical use:
  autocoder init --spec docs/spec.md
  autocoder start
  autocoder status`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = Version
	rootCmd.SetVersionTemplate("autocoder version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default .autocoder/config.yaml)")
}

// ExitError carries a process exit status other than 1. Err may be nil
// when the command already reported the problem.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
