// Package sprite runs agent commands on a Sprite VM through the sprites-go SDK.
package sprite

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	sprites "github.com/superfly/sprites-go"
	"golang.org/x/sync/errgroup"
)

// Client defines the Sprite operations used by the sprite backend.
type Client interface {
	// Create creates a new Sprite with the given name.
	// If checkpoint is non-empty, restores from that checkpoint after creation.
	Create(ctx context.Context, name string, checkpoint string) error

	// Execute runs a command on the Sprite and returns pipes for streaming.
	// The caller must call Wait() on the returned Cmd after draining output.
	Execute(ctx context.Context, name string, dir string, env []string, args ...string) (*Cmd, error)

	// ExecuteOutput runs a command to completion and returns its output and
	// exit code. A non-zero exit code is not an error.
	ExecuteOutput(ctx context.Context, name string, dir string, env []string, args ...string) (stdout, stderr []byte, exitCode int, err error)

	// WriteFile writes content to a file path on the Sprite.
	WriteFile(ctx context.Context, name string, path string, content []byte) error

	// ReadFile reads content from a file path on the Sprite.
	ReadFile(ctx context.Context, name string, path string) ([]byte, error)

	// Delete deletes the Sprite.
	Delete(ctx context.Context, name string) error

	// Exists checks if a Sprite exists.
	Exists(ctx context.Context, name string) (bool, error)
}

// Cmd wraps a running command with streaming output.
type Cmd struct {
	cmd     *sprites.Cmd
	Stdout  io.ReadCloser
	Stderr  io.ReadCloser
	waitErr error
	// exitCode is used when there is no underlying command.
	exitCode int
}

// Wait waits for the command to complete.
func (c *Cmd) Wait() error {
	if c.cmd == nil {
		return nil
	}
	c.waitErr = c.cmd.Wait()
	return c.waitErr
}

// ExitCode returns the exit code of the command after Wait() returns.
// Returns -1 if the exit code is unknown.
func (c *Cmd) ExitCode() int {
	if c.cmd == nil {
		return c.exitCode
	}
	if c.waitErr == nil {
		return 0
	}
	if exitErr, ok := c.waitErr.(*sprites.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// Output drains both pipes, waits for the command, and returns what it wrote.
func (c *Cmd) Output() (stdout, stderr []byte, exitCode int, err error) {
	var outBuf, errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&outBuf, c.Stdout)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, c.Stderr)
		return err
	})
	copyErr := g.Wait()
	waitErr := c.Wait()

	code := c.ExitCode()
	if copyErr != nil {
		return outBuf.Bytes(), errBuf.Bytes(), code, fmt.Errorf("failed to read command output: %w", copyErr)
	}
	if waitErr != nil && code < 0 {
		return outBuf.Bytes(), errBuf.Bytes(), code, fmt.Errorf("command failed: %w", waitErr)
	}
	return outBuf.Bytes(), errBuf.Bytes(), code, nil
}

// SDKClient implements Client using the sprites-go SDK.
type SDKClient struct {
	client *sprites.Client
}

// NewSDKClient creates a new SDKClient with the given API token.
func NewSDKClient(token string) *SDKClient {
	return &SDKClient{
		client: sprites.New(token),
	}
}

// Create creates a new Sprite with the given name.
func (c *SDKClient) Create(ctx context.Context, name string, checkpoint string) error {
	if _, err := c.client.CreateSprite(ctx, name, nil); err != nil {
		return fmt.Errorf("failed to create sprite %s: %w", name, err)
	}

	if checkpoint != "" {
		stream, err := c.client.Sprite(name).RestoreCheckpoint(ctx, checkpoint)
		if err != nil {
			return fmt.Errorf("failed to restore checkpoint %s: %w", checkpoint, err)
		}
		defer stream.Close()

		if err := stream.ProcessAll(func(msg *sprites.StreamMessage) error {
			return nil
		}); err != nil {
			return fmt.Errorf("failed to restore checkpoint %s: %w", checkpoint, err)
		}
	}
	return nil
}

// Execute runs a command on the Sprite and returns pipes for streaming.
func (c *SDKClient) Execute(ctx context.Context, name string, dir string, env []string, args ...string) (*Cmd, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no command specified")
	}

	cmd := c.client.Sprite(name).CommandContext(ctx, args[0], args[1:]...)
	if dir != "" {
		cmd.Dir = dir
	}
	if len(env) > 0 {
		cmd.Env = env
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	return &Cmd{
		cmd:    cmd,
		Stdout: stdout,
		Stderr: stderr,
	}, nil
}

// ExecuteOutput runs a command to completion and collects its output.
func (c *SDKClient) ExecuteOutput(ctx context.Context, name string, dir string, env []string, args ...string) ([]byte, []byte, int, error) {
	cmd, err := c.Execute(ctx, name, dir, env, args...)
	if err != nil {
		return nil, nil, -1, err
	}
	return cmd.Output()
}

// WriteFile writes content to a file path on the Sprite.
func (c *SDKClient) WriteFile(ctx context.Context, name string, path string, content []byte) error {
	fs := c.client.Sprite(name).Filesystem()
	if err := fs.WriteFileContext(ctx, path, content, 0o644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}

// ReadFile reads content from a file path on the Sprite.
func (c *SDKClient) ReadFile(ctx context.Context, name string, path string) ([]byte, error) {
	// The SDK filesystem has no context-aware read; the HTTP client still
	// applies its own deadline.
	data, err := c.client.Sprite(name).Filesystem().ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return data, nil
}

// Delete deletes the Sprite.
func (c *SDKClient) Delete(ctx context.Context, name string) error {
	if err := c.client.DeleteSprite(ctx, name); err != nil {
		return fmt.Errorf("failed to delete sprite %s: %w", name, err)
	}
	return nil
}

// Exists checks if a Sprite exists.
func (c *SDKClient) Exists(ctx context.Context, name string) (bool, error) {
	_, err := c.client.GetSprite(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check sprite existence: %w", err)
	}
	return true, nil
}

// isNotFound matches the various not-found error formats of the SDK.
func isNotFound(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "not found") ||
		strings.Contains(s, "404") ||
		strings.Contains(s, "failed to retrieve sprite")
}

// GenerateName derives a stable sprite name for a project.
// Format: autocoder-<8-char-hash>
func GenerateName(projectName, workDir string) string {
	hash := sha256.Sum256([]byte(projectName + ":" + workDir))
	return "autocoder-" + hex.EncodeToString(hash[:])[:8]
}

// Ensure creates the named sprite unless it already exists. It reports
// whether a sprite was created.
func Ensure(ctx context.Context, client Client, name string) (bool, error) {
	exists, err := client.Exists(ctx, name)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := client.Create(ctx, name, ""); err != nil {
		return false, err
	}
	return true, nil
}
