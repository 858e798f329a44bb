package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/security"
	"github.com/thruflo/autocoder/internal/state"
)

var hookCmd = &cobra.Command{
	Use:    "hook",
	Short:  "Agent hook entry points",
	Hidden: true,
}

var hookPreToolUseCmd = &cobra.Command{
	Use:   "pre-tool-use",
	Short: "Validate a Claude Code tool call read from stdin",
	Long: `Reads a PreToolUse hook payload on stdin and applies the security policy
of the enclosing project. Bash commands get the full check; file-writing
tools get the path scope check.

On denial it prints {"decision":"block","reason":...} and exits 2, which
makes Claude Code refuse the call. A config that cannot be loaded or
validated also blocks. The claude-cli backend registers this command in
.claude/settings.local.json, passing --config when the session used one.`,
	Args: cobra.NoArgs,
	RunE: runHookPreToolUse,
}

func init() {
	hookCmd.AddCommand(hookPreToolUseCmd)
	rootCmd.AddCommand(hookCmd)
}

func runHookPreToolUse(cmd *cobra.Command, args []string) error {
	v, basePath, err := hookValidator()
	if err != nil {
		// Exit 1 would let the call through; refuse it instead.
		code := security.WriteBlock(cmd.OutOrStdout(), "security policy unavailable: "+err.Error())
		return &ExitError{Code: code, Err: err}
	}

	code, viol := v.RunHook(cmd.InOrStdin(), cmd.OutOrStdout())
	if viol == nil {
		return nil
	}

	fmt.Fprintln(cmd.ErrOrStderr(), viol.Error())
	entry := state.AuditEntry{
		Time:    time.Now().UTC(),
		Kind:    state.AuditSecurityDenial,
		Command: viol.Command,
		Reason:  string(viol.Reason),
		Rule:    viol.Rule,
		Detail:  "pre-tool-use hook",
	}
	if err := state.NewAuditLog(state.AuditPath(basePath)).Record(entry); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to write audit entry: %v\n", err)
	}
	return &ExitError{Code: code}
}

// hookValidator builds the validator for the enclosing project from the
// config named by --config, or the project's default config.
func hookValidator() (*security.Validator, string, error) {
	cwd, err := getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}
	basePath := findProjectRoot(cwd)

	cfg, err := config.LoadConfigFile(basePath, configPath(basePath))
	if err != nil {
		return nil, basePath, fmt.Errorf("failed to load config: %w", err)
	}
	workDir := cfg.WorkDir
	if workDir == "" {
		workDir = "."
	}
	if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(basePath, workDir)
	}

	v, err := security.New(cfg.Security, workDir)
	if err != nil {
		return nil, basePath, err
	}
	return v, basePath, nil
}

// findProjectRoot walks up from dir to the nearest directory holding
// .autocoder/. It returns dir when there is none.
func findProjectRoot(dir string) string {
	for d := dir; ; {
		if info, err := os.Stat(filepath.Join(d, config.DirName)); err == nil && info.IsDir() {
			return d
		}
		parent := filepath.Dir(d)
		if parent == d {
			return dir
		}
		d = parent
	}
}
