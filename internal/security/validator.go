// Package security decides whether a command proposed by the agent may run.
//
// The command is parsed as bash and validation has three layers, applied to
// every simple command it contains, nested ones included: the program must
// be allow-listed, the full command must not match a destructive pattern
// (allow-listing never overrides this), and every path argument and
// redirection target must resolve inside an allowed root and outside every
// blocked root. A denial is final for that command.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/thruflo/autocoder/internal/config"
)

// Reason names the layer that denied a command.
type Reason string

const (
	ReasonNotAllowlisted Reason = "not_allowlisted"
	ReasonDestructive    Reason = "destructive_pattern"
	ReasonOutOfScope     Reason = "out_of_scope"
)

// Violation is returned for a denied command.
type Violation struct {
	Command string
	Reason  Reason
	Rule    string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("command denied (%s): %q matched %s", v.Reason, v.Command, v.Rule)
}

type pattern struct {
	source string
	re     *regexp.Regexp
}

// Validator holds a compiled security policy. It is immutable and safe for
// concurrent use.
type Validator struct {
	allowed      [][]string
	blocked      map[string]bool
	patterns     []pattern
	allowedRoots []string
	blockedRoots []string
	workDir      string
}

// devPaths are always in scope.
var devPaths = map[string]bool{
	"/dev/null":   true,
	"/dev/stdout": true,
	"/dev/stderr": true,
	"/dev/stdin":  true,
}

// New compiles policy. Relative allowed and blocked paths are resolved
// against workDir; "~" expands to the user's home directory.
func New(policy config.Security, workDir string) (*Validator, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve work dir: %w", err)
	}
	v := &Validator{
		blocked: make(map[string]bool),
		workDir: abs,
	}

	for _, entry := range policy.AllowedCommands {
		if fields := strings.Fields(entry); len(fields) > 0 {
			v.allowed = append(v.allowed, fields)
		}
	}
	for _, cmd := range policy.BlockedCommands {
		v.blocked[strings.TrimSpace(cmd)] = true
	}
	for _, src := range policy.BlockedPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("invalid blocked pattern %q: %w", src, err)
		}
		v.patterns = append(v.patterns, pattern{source: src, re: re})
	}
	for _, p := range policy.AllowedPaths {
		v.allowedRoots = append(v.allowedRoots, v.resolve(p))
	}
	for _, p := range policy.BlockedPaths {
		v.blockedRoots = append(v.blockedRoots, v.resolve(p))
	}
	return v, nil
}

// WorkDir returns the absolute directory commands run in.
func (v *Validator) WorkDir() string {
	return v.workDir
}

// Validate returns nil if command may run, or a *Violation.
func (v *Validator) Validate(command string) error {
	command = strings.TrimSpace(command)
	if command == "" {
		return &Violation{Command: command, Reason: ReasonNotAllowlisted, Rule: "empty command"}
	}

	script, err := Parse(command)
	if err != nil {
		return &Violation{Command: command, Reason: ReasonNotAllowlisted, Rule: "unparseable command: " + err.Error()}
	}
	for _, call := range script.Calls {
		if rule, ok := v.allowListed(call.Args); !ok {
			return &Violation{Command: command, Reason: ReasonNotAllowlisted, Rule: rule}
		}
	}

	for _, p := range v.patterns {
		if p.re.MatchString(command) {
			return &Violation{Command: command, Reason: ReasonDestructive, Rule: p.source}
		}
	}

	for _, call := range script.Calls {
		for _, arg := range call.Args[1:] {
			path, ok := pathArgument(arg)
			if !ok {
				continue
			}
			if rule, ok := v.inScope(path); !ok {
				return &Violation{Command: command, Reason: ReasonOutOfScope, Rule: rule}
			}
		}
	}
	for _, r := range script.Redirects {
		if !r.Literal {
			return &Violation{Command: command, Reason: ReasonOutOfScope, Rule: "redirect target not literal: " + r.Target}
		}
		if rule, ok := v.inScope(r.Target); !ok {
			return &Violation{Command: command, Reason: ReasonOutOfScope, Rule: rule}
		}
	}
	return nil
}

// ValidatePath applies only the filesystem scope layer, for tools that
// write files directly.
func (v *Validator) ValidatePath(path string) error {
	if rule, ok := v.inScope(path); !ok {
		return &Violation{Command: path, Reason: ReasonOutOfScope, Rule: rule}
	}
	return nil
}

// allowListed checks a call's program, stripping any directory from its
// name.
func (v *Validator) allowListed(args []string) (string, bool) {
	if len(args) == 0 {
		return "", true
	}
	program := filepath.Base(args[0])
	if v.blocked[program] {
		return "blocked_commands: " + program, false
	}

outer:
	for _, entry := range v.allowed {
		if len(args) < len(entry) || filepath.Base(entry[0]) != program {
			continue
		}
		for i := 1; i < len(entry); i++ {
			if args[i] != entry[i] {
				continue outer
			}
		}
		return "", true
	}
	return "allowed_commands: " + program, false
}

// inScope resolves path and checks it against the blocked and allowed roots.
func (v *Validator) inScope(path string) (string, bool) {
	resolved := v.resolve(path)
	if devPaths[resolved] {
		return "", true
	}
	for _, root := range v.blockedRoots {
		if within(root, resolved) && !v.allowedBelow(root, resolved) {
			return "blocked_paths: " + root, false
		}
	}
	for _, root := range v.allowedRoots {
		if within(root, resolved) {
			return "", true
		}
	}
	return "allowed_paths: " + resolved, false
}

// allowedBelow reports whether an allowed root nested inside blocked covers
// path. The more specific root wins.
func (v *Validator) allowedBelow(blocked, path string) bool {
	for _, root := range v.allowedRoots {
		if root != blocked && within(blocked, root) && within(root, path) {
			return true
		}
	}
	return false
}

// resolve expands "~" and makes p absolute relative to the work dir.
func (v *Validator) resolve(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	if strings.HasPrefix(p, "$HOME") {
		if home, err := os.UserHomeDir(); err == nil {
			p = filepath.Join(home, strings.TrimPrefix(p, "$HOME"))
		}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(v.workDir, p)
	}
	return filepath.Clean(p)
}

// within reports whether path is root or below it.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// pathArgument extracts a filesystem path from an argument if it looks
// like one.
func pathArgument(arg string) (string, bool) {
	if strings.HasPrefix(arg, "-") {
		idx := strings.Index(arg, "=")
		if idx < 0 {
			return "", false
		}
		arg = arg[idx+1:]
	}
	if arg == "" || strings.Contains(arg, "://") {
		return "", false
	}
	switch {
	case arg == "." || arg == ".." || arg == "~":
		return arg, true
	case strings.HasPrefix(arg, "/"), strings.HasPrefix(arg, "~/"), strings.HasPrefix(arg, "$HOME"):
		return arg, true
	case strings.HasPrefix(arg, "./"), strings.HasPrefix(arg, "../"):
		return arg, true
	case strings.Contains(arg, "/") && !strings.ContainsAny(arg, "@:"):
		return arg, true
	}
	return "", false
}
