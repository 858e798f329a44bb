package approval

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/state"
)

// Bell is the terminal bell character.
const Bell = "\a"

// TerminalChannel prompts on an interactive terminal.
type TerminalChannel struct {
	out   io.Writer
	lines chan string
	once  sync.Once
	in    io.Reader
}

// NewTerminalChannel returns a channel reading answers from in. It reports
// false when in is not a terminal, so unattended runs never block on stdin.
func NewTerminalChannel(in *os.File, out io.Writer) (*TerminalChannel, bool) {
	if !term.IsTerminal(int(in.Fd())) {
		return nil, false
	}
	return newTerminalChannel(in, out), true
}

func newTerminalChannel(in io.Reader, out io.Writer) *TerminalChannel {
	return &TerminalChannel{in: in, out: out, lines: make(chan string)}
}

func (c *TerminalChannel) Name() string { return config.ChannelTerminal }

// Notify rings the bell and prints the prompt.
func (c *TerminalChannel) Notify(ctx context.Context, req Request) error {
	_, err := fmt.Fprintf(c.out, "%s\nCheckpoint (%s): %s\nApprove? [y/N] ", Bell, req.Trigger, req.Summary)
	return err
}

// Await reads one answer line. Anything other than y or yes rejects.
func (c *TerminalChannel) Await(ctx context.Context, req Request) (Decision, error) {
	c.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(c.in)
			for scanner.Scan() {
				c.lines <- scanner.Text()
			}
			close(c.lines)
		}()
	})

	select {
	case <-ctx.Done():
		return Reject, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return Reject, io.EOF
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return Approve, nil
		default:
			return Reject, nil
		}
	}
}

// FileChannel writes requests under a directory and polls for a response
// file, written by "autocoder approve".
type FileChannel struct {
	dir          string
	pollInterval time.Duration
}

// fileRequest is the on-disk form of a Request.
type fileRequest struct {
	ID        string    `json:"id"`
	Trigger   string    `json:"trigger"`
	TaskID    string    `json:"task_id,omitempty"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

type fileResponse struct {
	Decision    string    `json:"decision"`
	RespondedAt time.Time `json:"responded_at"`
}

// PendingRequest is a request without a response.
type PendingRequest struct {
	ID        string
	Trigger   string
	TaskID    string
	Summary   string
	CreatedAt time.Time
}

// Dir returns the approvals directory for a project.
func Dir(basePath string) string {
	return filepath.Join(basePath, config.DirName, "approvals")
}

// NewFileChannel creates a FileChannel rooted at dir.
func NewFileChannel(dir string) *FileChannel {
	return &FileChannel{dir: dir, pollInterval: 250 * time.Millisecond}
}

func (c *FileChannel) Name() string { return config.ChannelFile }

func requestPath(dir, id string) string {
	return filepath.Join(dir, id+".json")
}

func responsePath(dir, id string) string {
	return filepath.Join(dir, id+".response.json")
}

// Notify writes <dir>/<id>.json.
func (c *FileChannel) Notify(ctx context.Context, req Request) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create approvals dir: %w", err)
	}
	data, err := json.MarshalIndent(fileRequest{
		ID:        req.ID,
		Trigger:   req.Trigger.String(),
		TaskID:    req.TaskID,
		Summary:   req.Summary,
		CreatedAt: req.CreatedAt,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	return state.WriteFileAtomic(requestPath(c.dir, req.ID), data, 0o644)
}

// Await polls for <dir>/<id>.response.json.
func (c *FileChannel) Await(ctx context.Context, req Request) (Decision, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		d, ok, err := readResponse(c.dir, req.ID)
		if err != nil {
			return Reject, err
		}
		if ok {
			return d, nil
		}
		select {
		case <-ctx.Done():
			return Reject, ctx.Err()
		case <-ticker.C:
		}
	}
}

func readResponse(dir, id string) (Decision, bool, error) {
	data, err := os.ReadFile(responsePath(dir, id))
	if errors.Is(err, os.ErrNotExist) {
		return Reject, false, nil
	}
	if err != nil {
		return Reject, false, fmt.Errorf("failed to read response: %w", err)
	}
	var resp fileResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return Reject, false, fmt.Errorf("failed to parse response: %w", err)
	}
	d, err := ParseDecision(resp.Decision)
	if err != nil {
		return Reject, false, err
	}
	return d, true, nil
}

// Respond answers the pending request id in dir.
func Respond(dir, id string, d Decision) error {
	if _, err := os.Stat(requestPath(dir, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("no approval request %s", id)
		}
		return fmt.Errorf("failed to read request: %w", err)
	}
	if _, ok, _ := readResponse(dir, id); ok {
		return fmt.Errorf("approval request %s already answered", id)
	}
	data, err := json.MarshalIndent(fileResponse{Decision: d.String(), RespondedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}
	return state.WriteFileAtomic(responsePath(dir, id), data, 0o644)
}

// Pending lists unanswered requests in dir, oldest first.
func Pending(dir string) ([]PendingRequest, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read approvals dir: %w", err)
	}

	var pending []PendingRequest
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".response.json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if _, err := os.Stat(responsePath(dir, id)); err == nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read request %s: %w", id, err)
		}
		var req fileRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("failed to parse request %s: %w", id, err)
		}
		pending = append(pending, PendingRequest(req))
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	return pending, nil
}

// WebhookChannel posts requests as JSON. It cannot collect answers.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a WebhookChannel posting to url.
func NewWebhookChannel(url string, client *http.Client) *WebhookChannel {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookChannel{url: url, client: client}
}

func (c *WebhookChannel) Name() string { return config.ChannelWebhook }

// WebhookPayload is the body posted to the webhook.
type WebhookPayload struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id,omitempty"`
	Trigger   string    `json:"trigger,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Notify posts an approval_request payload.
func (c *WebhookChannel) Notify(ctx context.Context, req Request) error {
	return c.Post(ctx, WebhookPayload{
		Kind:      "approval_request",
		ID:        req.ID,
		Trigger:   req.Trigger.String(),
		TaskID:    req.TaskID,
		Text:      req.Summary,
		CreatedAt: req.CreatedAt,
	})
}

// Post sends an arbitrary payload. Non-2xx responses are errors.
func (c *WebhookChannel) Post(ctx context.Context, payload WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// DesktopChannel shows an OS notification. It cannot collect answers.
type DesktopChannel struct {
	run func(title, message string) error
}

// NewDesktopChannel returns a channel using osascript on macOS and doing
// nothing elsewhere.
func NewDesktopChannel() *DesktopChannel {
	return &DesktopChannel{run: notifyOS}
}

func (c *DesktopChannel) Name() string { return config.ChannelDesktop }

// Notify shows the request summary.
func (c *DesktopChannel) Notify(ctx context.Context, req Request) error {
	return c.run("autocoder: approval needed", req.Summary)
}

// Show displays an arbitrary notification.
func (c *DesktopChannel) Show(title, message string) error {
	return c.run(title, message)
}

func notifyOS(title, message string) error {
	if runtime.GOOS != "darwin" {
		return nil
	}
	script := fmt.Sprintf(`display notification %q with title %q`, message, title)
	return exec.Command("osascript", "-e", script).Run()
}
