package sprite

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Home is the base directory for autocoder data on the Sprite.
// Used instead of /home/sprite due to Firecracker VM filesystem permission issues.
const Home = "/var/local/autocoder"

var (
	// WorkspaceDir is where the agent runs on the Sprite.
	WorkspaceDir = filepath.Join(Home, "workspace")

	// ClaudeDir holds Claude Code credentials and settings.
	ClaudeDir = filepath.Join(Home, ".claude")

	// GitConfigPath is the git config written by SetupGitConfig.
	GitConfigPath = filepath.Join(Home, ".gitconfig")
)

// Quote single-quotes s for bash.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>()*?[]{}~#!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ClaudeCommand builds a bash command that runs claude with HOME set to Home,
// so it finds the credentials copied by CopyClaudeCredentials. Every argument
// is quoted.
func ClaudeCommand(claudeArgs []string) []string {
	quoted := make([]string, len(claudeArgs))
	for i, a := range claudeArgs {
		quoted[i] = Quote(a)
	}
	bashCmd := fmt.Sprintf("export HOME=%s && source ~/.bashrc 2>/dev/null; %s", Home, strings.Join(quoted, " "))
	return []string{"bash", "-c", bashCmd}
}
