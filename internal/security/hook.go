package security

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thruflo/autocoder/internal/config"
)

// HookExitBlock is the exit status that tells Claude Code to refuse a tool
// call.
const HookExitBlock = 2

// HookEvent is the PreToolUse payload Claude Code writes to a hook's stdin.
type HookEvent struct {
	SessionID     string          `json:"session_id"`
	Cwd           string          `json:"cwd"`
	HookEventName string          `json:"hook_event_name"`
	ToolName      string          `json:"tool_name"`
	ToolInput     json.RawMessage `json:"tool_input"`
}

type toolInput struct {
	Command      string `json:"command"`
	FilePath     string `json:"file_path"`
	NotebookPath string `json:"notebook_path"`
}

// HookDecision is written to stdout when a tool call is refused.
type HookDecision struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

// Evaluate applies the policy to a tool call. Shell commands get the full
// validation; file-writing tools get the path scope check. Other tools are
// allowed.
func (v *Validator) Evaluate(ev HookEvent) error {
	var in toolInput
	if len(ev.ToolInput) > 0 {
		if err := json.Unmarshal(ev.ToolInput, &in); err != nil {
			return fmt.Errorf("failed to parse tool input: %w", err)
		}
	}

	switch ev.ToolName {
	case "Bash":
		return v.Validate(in.Command)
	case "Write", "Edit", "MultiEdit":
		return v.ValidatePath(in.FilePath)
	case "NotebookEdit":
		return v.ValidatePath(in.NotebookPath)
	default:
		return nil
	}
}

// RunHook reads a HookEvent from r and evaluates it. On denial it writes a
// HookDecision to w and returns the Violation with HookExitBlock. A payload
// that cannot be parsed is also refused.
func (v *Validator) RunHook(r io.Reader, w io.Writer) (int, *Violation) {
	var ev HookEvent
	if err := json.NewDecoder(r).Decode(&ev); err != nil {
		viol := &Violation{Reason: ReasonNotAllowlisted, Rule: "unparseable hook payload: " + err.Error()}
		writeDecision(w, viol)
		return HookExitBlock, viol
	}

	err := v.Evaluate(ev)
	if err == nil {
		return 0, nil
	}
	viol, ok := err.(*Violation)
	if !ok {
		viol = &Violation{Reason: ReasonNotAllowlisted, Rule: err.Error()}
	}
	writeDecision(w, viol)
	return HookExitBlock, viol
}

func writeDecision(w io.Writer, viol *Violation) {
	WriteBlock(w, viol.Error())
}

// WriteBlock writes a block decision with reason and returns HookExitBlock.
// Hooks use it when no policy can be applied at all, so that the call is
// refused rather than let through.
func WriteBlock(w io.Writer, reason string) int {
	data, _ := json.Marshal(HookDecision{Decision: "block", Reason: reason})
	fmt.Fprintln(w, string(data))
	return HookExitBlock
}

// HookCommand is the command line Claude Code runs for the hook. configPath
// is passed as --config when set so the hook applies the same policy as the
// session that registered it.
func HookCommand(binary, configPath string) string {
	command := quoteArg(binary) + " hook pre-tool-use"
	if configPath != "" {
		command += " --config " + quoteArg(configPath)
	}
	return command
}

// quoteArg single-quotes s for sh unless it is made of safe characters.
func quoteArg(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("_-./:=@%+,", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// HookSettings returns Claude Code settings that route every Bash and
// file-writing tool call through the hook command. deny carries permission
// rules written alongside.
func HookSettings(binary, configPath string, deny []string) config.Settings {
	command := HookCommand(binary, configPath)
	if deny == nil {
		deny = []string{}
	}
	return config.Settings{
		Permissions: config.Permissions{Deny: deny},
		Hooks: map[string][]config.HookMatcher{
			"PreToolUse": {
				{
					Matcher: "Bash|Write|Edit|MultiEdit|NotebookEdit",
					Hooks:   []config.HookCommand{{Type: "command", Command: command}},
				},
			},
		},
	}
}

// DefaultDeny keeps credential files out of the agent's reach.
var DefaultDeny = []string{
	"Read(~/.ssh/**)", "Edit(~/.ssh/**)",
	"Read(~/.aws/**)", "Edit(~/.aws/**)",
	"Read(~/.config/gh/**)", "Edit(~/.config/gh/**)",
	"Read(**/.env)", "Edit(**/.env)",
	"Read(**/.env.*)", "Edit(**/.env.*)",
}

// SettingsPath is where hook settings are written inside a project. The
// local settings file leaves a checked-in settings.json untouched.
func SettingsPath(workDir string) string {
	return filepath.Join(workDir, ".claude", "settings.local.json")
}

// WriteHookSettings registers the pre-tool-use hook for the project at
// workDir.
func WriteHookSettings(workDir, binary, configPath string) error {
	data, err := json.MarshalIndent(HookSettings(binary, configPath, DefaultDeny), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	path := SettingsPath(workDir)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}
