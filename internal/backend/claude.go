package backend

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/security"
	"github.com/thruflo/autocoder/internal/sprite"
)

// Executor runs a claude command line and streams its stdout lines.
type Executor interface {
	// Run returns the exit code. err is reserved for failures to start or
	// read the process; a non-zero exit code is not an error.
	Run(ctx context.Context, dir string, args []string, onLine func(string)) (exitCode int, stderr string, err error)
}

// maxStderr bounds the stderr kept for error messages.
const maxStderr = 4096

// LocalExecutor runs claude as a child process.
type LocalExecutor struct{}

// Run starts args[0] with the remaining arguments in dir.
func (LocalExecutor) Run(ctx context.Context, dir string, args []string, onLine func(string)) (int, string, error) {
	if len(args) == 0 {
		return -1, "", fmt.Errorf("no command specified")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return -1, "", fmt.Errorf("failed to start %s: %w", args[0], err)
	}

	errBuf := &limitedBuffer{max: maxStderr}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(errBuf, stderr)
	}()

	scanErr := scanLines(stdout, onLine)
	wg.Wait()
	waitErr := cmd.Wait()

	if scanErr != nil {
		return -1, errBuf.String(), fmt.Errorf("failed to read output: %w", scanErr)
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return exitErr.ExitCode(), errBuf.String(), nil
		}
		return -1, errBuf.String(), fmt.Errorf("claude failed: %w", waitErr)
	}
	return 0, errBuf.String(), nil
}

// SpriteExecutor runs claude on a Sprite VM, provisioning it on first use.
type SpriteExecutor struct {
	client sprite.Client
	name   string

	once    sync.Once
	provErr error
}

// NewSpriteExecutor returns an executor for the named sprite.
func NewSpriteExecutor(client sprite.Client, name string) *SpriteExecutor {
	return &SpriteExecutor{client: client, name: name}
}

// Run executes args in sprite.WorkspaceDir. dir is ignored; the local work
// directory does not exist on the VM.
func (e *SpriteExecutor) Run(ctx context.Context, dir string, args []string, onLine func(string)) (int, string, error) {
	e.once.Do(func() {
		e.provErr = sprite.Provision(ctx, e.client, e.name)
	})
	if e.provErr != nil {
		return -1, "", fmt.Errorf("failed to provision sprite %s: %w", e.name, e.provErr)
	}

	cmd, err := e.client.Execute(ctx, e.name, sprite.WorkspaceDir, nil, sprite.ClaudeCommand(args)...)
	if err != nil {
		return -1, "", err
	}

	errBuf := &limitedBuffer{max: maxStderr}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(errBuf, cmd.Stderr)
	}()
	scanErr := scanLines(cmd.Stdout, onLine)
	wg.Wait()
	_ = cmd.Wait()

	if scanErr != nil {
		return -1, errBuf.String(), fmt.Errorf("failed to read output: %w", scanErr)
	}
	return cmd.ExitCode(), errBuf.String(), nil
}

func scanLines(r io.Reader, onLine func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	return scanner.Err()
}

type limitedBuffer struct {
	mu  sync.Mutex
	b   strings.Builder
	max int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if room := l.max - l.b.Len(); room > 0 {
		if len(p) > room {
			l.b.Write(p[:room])
		} else {
			l.b.Write(p)
		}
	}
	return len(p), nil
}

func (l *limitedBuffer) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.TrimSpace(l.b.String())
}

// ClaudeOptions configures a Claude Code backend.
type ClaudeOptions struct {
	// Path is the claude binary. Defaults to "claude".
	Path  string
	Model string
	// MaxTurns is passed as --max-turns. Defaults to 1: the runner drives
	// the turn loop itself.
	MaxTurns int
	// HookBinary, when set, is registered as the PreToolUse hook in the
	// work directory before the first call.
	HookBinary string
	// HookConfig is passed to the hook as --config when set.
	HookConfig string
	Pricing    Pricing
	Logger     *logging.Logger
}

// Claude runs Claude Code in print mode and reads its stream-json output.
type Claude struct {
	name      string
	executor  Executor
	opts      ClaudeOptions
	estimator *TokenEstimator

	hookMu   sync.Mutex
	hookDirs map[string]bool
}

// NewClaudeCLI returns a backend running the local claude binary.
func NewClaudeCLI(opts ClaudeOptions) *Claude {
	return NewClaude(config.BackendClaudeCLI, LocalExecutor{}, opts)
}

// NewSprite returns a backend running claude on a Sprite VM.
func NewSprite(client sprite.Client, spriteName string, opts ClaudeOptions) *Claude {
	// The hook binary lives on this machine, not on the VM.
	opts.HookBinary, opts.HookConfig = "", ""
	return NewClaude(config.BackendSprite, NewSpriteExecutor(client, spriteName), opts)
}

// NewClaude returns a Claude backend over any executor.
func NewClaude(name string, executor Executor, opts ClaudeOptions) *Claude {
	if opts.Path == "" {
		opts.Path = "claude"
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Claude{
		name:      name,
		executor:  executor,
		opts:      opts,
		estimator: NewTokenEstimator(),
		hookDirs:  make(map[string]bool),
	}
}

// Name returns the backend name.
func (c *Claude) Name() string { return c.name }

// Args builds the claude command line for a request.
func (c *Claude) Args(req Request) []string {
	args := []string{
		c.opts.Path,
		"-p", req.Prompt,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(c.opts.MaxTurns),
	}
	if model := pick(req.Model, c.opts.Model); model != "" {
		args = append(args, "--model", model)
	}
	if req.System != "" {
		args = append(args, "--append-system-prompt", req.System)
	}
	return args
}

// Complete runs one prompt.
func (c *Claude) Complete(ctx context.Context, req Request) (Response, error) {
	if err := c.registerHook(req.WorkDir); err != nil {
		return Response{}, err
	}

	var st StreamState
	exitCode, stderr, err := c.executor.Run(ctx, req.WorkDir, c.Args(req), func(line string) {
		st.Update(line)
	})
	if err != nil {
		return Response{}, err
	}
	if ctx.Err() != nil {
		return Response{}, ctx.Err()
	}
	if st.Failed() {
		return Response{}, fmt.Errorf("claude reported an error: %s", st.Response().Text)
	}
	// Claude sometimes exits non-zero after emitting a complete result.
	if !st.Done() {
		return Response{}, fmt.Errorf("claude exited with code %d without a result: %s", exitCode, stderr)
	}

	for _, tool := range st.ToolUses {
		c.opts.Logger.Debug("claude tool use", "tool", tool, "session", st.SessionID)
	}
	if st.Malformed > 0 {
		c.opts.Logger.Debug("skipped non-json claude output", "lines", st.Malformed)
	}

	resp := st.Response()
	if resp.CostUSD == 0 {
		c.estimator.Fill(&resp, req, c.opts.Pricing)
	}
	return resp, nil
}

// registerHook writes the hook settings once per work directory.
func (c *Claude) registerHook(workDir string) error {
	if c.opts.HookBinary == "" || workDir == "" {
		return nil
	}
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	if c.hookDirs[workDir] {
		return nil
	}
	if err := security.WriteHookSettings(workDir, c.opts.HookBinary, c.opts.HookConfig); err != nil {
		return fmt.Errorf("failed to register security hook: %w", err)
	}
	c.hookDirs[workDir] = true
	return nil
}
