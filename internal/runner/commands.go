package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// DefaultMaxOutput caps the command output kept in a transcript.
const DefaultMaxOutput = 8 * 1024

// DefaultCommandTimeout bounds a single proposed command.
const DefaultCommandTimeout = 10 * time.Minute

// CommandResult is the outcome of one proposed command.
type CommandResult struct {
	Command  string
	Output   string
	ExitCode int
	// Denied holds the validator's reason when the command was not run.
	Denied string
}

// CommandExecutor runs commands the model proposes. Commands reach it only
// after the security validator allowed them.
type CommandExecutor interface {
	Run(ctx context.Context, command string) (CommandResult, error)
}

// ShellExecutor runs commands with bash -c in a working directory.
type ShellExecutor struct {
	Dir       string
	MaxOutput int
	Timeout   time.Duration
}

// NewShellExecutor creates a ShellExecutor with default limits.
func NewShellExecutor(dir string) *ShellExecutor {
	return &ShellExecutor{Dir: dir, MaxOutput: DefaultMaxOutput, Timeout: DefaultCommandTimeout}
}

// Run executes command. A non-zero exit is reported in the result, not as
// an error; errors mean the command could not be run at all.
func (e *ShellExecutor) Run(ctx context.Context, command string) (CommandResult, error) {
	timeout := e.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "bash", "-c", command)
	cmd.Dir = e.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	res := CommandResult{Command: command}
	err := cmd.Run()
	res.Output = truncate(out.String(), e.MaxOutput)

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return res, fmt.Errorf("failed to run command: %w", err)
		}
		res.ExitCode = exitErr.ExitCode()
		if ctx.Err() == context.DeadlineExceeded {
			res.Output += fmt.Sprintf("\n[timed out after %v]", timeout)
		}
	}
	return res, nil
}

// truncate keeps the head and tail of s within limit bytes.
func truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	if len(s) <= limit {
		return s
	}
	half := limit / 2
	return s[:half] + fmt.Sprintf("\n... [%d bytes truncated] ...\n", len(s)-2*half) + s[len(s)-half:]
}
