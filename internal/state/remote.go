package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/thruflo/autocoder/internal/logging"
)

// RemoteOptions configures a RemoteProvider.
type RemoteOptions struct {
	BaseURL     string
	Token       string
	Team        string
	MaxAttempts int

	// InitialInterval is the first backoff delay (default 200ms).
	InitialInterval time.Duration
	// MaxInterval caps the backoff delay (default 5s).
	MaxInterval time.Duration
	HTTPClient  *http.Client
}

// RemoteProvider talks JSON over HTTP to an issue-tracker style API.
//
// Transient failures (network errors, 429, 5xx) are retried with bounded
// exponential backoff behind a circuit breaker. 409 maps to a ConflictError
// and 404 to ErrNotFound; other 4xx responses are permanent ProviderErrors.
type RemoteProvider struct {
	base        *url.URL
	token       string
	team        string
	maxAttempts int
	initial     time.Duration
	maxInterval time.Duration
	client      *http.Client
	breaker     *gobreaker.CircuitBreaker
	log         *logging.Logger
}

// conflictBody is the 409 response payload.
type conflictBody struct {
	ActualStatus    Status `json:"actual_status"`
	ActualSessionID int    `json:"actual_session_id,omitempty"`
}

// createResponse is the POST /tasks response payload.
type createResponse struct {
	ID string `json:"id"`
}

// NewRemoteProvider builds a provider and pings GET /meta so that an
// unreachable tracker fails at initialization. A 404 from the ping means
// the project is not initialized yet and is not an error.
func NewRemoteProvider(ctx context.Context, opts RemoteOptions) (*RemoteProvider, error) {
	if opts.BaseURL == "" {
		return nil, &ProviderError{Op: "init", Err: errors.New("remote url is empty")}
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, &ProviderError{Op: "init", Err: fmt.Errorf("invalid remote url: %w", err)}
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 4
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 200 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 5 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	log := logging.With("provider", "remote")
	p := &RemoteProvider{
		base:        base,
		token:       opts.Token,
		team:        opts.Team,
		maxAttempts: opts.MaxAttempts,
		initial:     opts.InitialInterval,
		maxInterval: opts.MaxInterval,
		client:      opts.HTTPClient,
		log:         log,
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "tracker",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Only transient failures count against the tracker.
			return err == nil || !IsTransient(err)
		},
	})

	if _, err := p.GetMeta(ctx); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("remote provider unreachable: %w", err)
	}
	return p, nil
}

// Name returns the provider name.
func (p *RemoteProvider) Name() string { return "remote" }

// Close releases idle connections.
func (p *RemoteProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// CreateTask creates a task. An idempotency key makes retried POSTs safe.
func (p *RemoteProvider) CreateTask(ctx context.Context, nt NewTask) (string, error) {
	if nt.Origin == "" {
		nt.Origin = OriginBreakdown
	}
	var resp createResponse
	headers := map[string]string{"Idempotency-Key": uuid.NewString()}
	if err := p.do(ctx, "create_task", http.MethodPost, "/tasks", nil, headers, nt, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &ProviderError{Op: "create_task", Err: errors.New("response carried no task id")}
	}
	return resp.ID, nil
}

// GetTask fetches a task.
func (p *RemoteProvider) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := p.do(ctx, "get_task", http.MethodGet, "/tasks/"+url.PathEscape(id), nil, nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask patches a task. The status graph and guards are checked
// locally before the request; the server enforces expected_status and
// expected_session_id atomically.
func (p *RemoteProvider) UpdateTask(ctx context.Context, id string, patch TaskPatch) (*Task, error) {
	if patch.Status != nil || patch.ExpectedSessionID != nil {
		current, err := p.GetTask(ctx, id)
		if err != nil {
			return nil, err
		}
		check := *current
		if err := applyPatch(&check, patch, nowFunc()); err != nil {
			return nil, err
		}
	}

	var t Task
	err := p.do(ctx, "update_task", http.MethodPatch, "/tasks/"+url.PathEscape(id), nil, nil, patch, &t)
	if err != nil {
		var ce *ConflictError
		if errors.As(err, &ce) {
			ce.TaskID = id
			if patch.ExpectedStatus != nil {
				ce.Expected = *patch.ExpectedStatus
			}
			if patch.ExpectedSessionID != nil && ce.Expected == ce.Actual && ce.ActualSession != *patch.ExpectedSessionID {
				ce.Owner = true
				ce.ExpectedSession = *patch.ExpectedSessionID
			}
		}
		return nil, err
	}
	return &t, nil
}

// ListTasks lists tasks; the filter is sent as query parameters and also
// applied locally in case the server ignores some of them.
func (p *RemoteProvider) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	q := url.Values{}
	if len(filter.Statuses) > 0 {
		names := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			names[i] = string(s)
		}
		q.Set("status", strings.Join(names, ","))
	}
	if filter.SessionID != 0 {
		q.Set("session_id", strconv.Itoa(filter.SessionID))
	}
	if filter.IncludeMeta {
		q.Set("include_meta", "true")
	}

	var tasks []Task
	if err := p.do(ctx, "list_tasks", http.MethodGet, "/tasks", q, nil, nil, &tasks); err != nil {
		return nil, err
	}
	out := tasks[:0]
	for i := range tasks {
		if filter.Matches(&tasks[i]) {
			out = append(out, tasks[i])
		}
	}
	return out, nil
}

// GetMeta fetches the meta record.
func (p *RemoteProvider) GetMeta(ctx context.Context) (*Meta, error) {
	var m Meta
	if err := p.do(ctx, "get_meta", http.MethodGet, "/meta", nil, nil, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// UpdateMeta patches the meta record; the server applies increments.
func (p *RemoteProvider) UpdateMeta(ctx context.Context, patch MetaPatch) (*Meta, error) {
	var m Meta
	if err := p.do(ctx, "update_meta", http.MethodPatch, "/meta", nil, nil, patch, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// StartSession opens a session; the server assigns the next id.
func (p *RemoteProvider) StartSession(ctx context.Context) (*Session, error) {
	var s Session
	if err := p.do(ctx, "start_session", http.MethodPost, "/sessions", nil, nil, struct{}{}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// EndSession closes a session.
func (p *RemoteProvider) EndSession(ctx context.Context, id int, end SessionEnd) error {
	path := "/sessions/" + strconv.Itoa(id) + "/end"
	err := p.do(ctx, "end_session", http.MethodPost, path, nil, nil, end, nil)
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("session %d: %w", id, ErrSessionEnded)
	}
	return err
}

// ListSessions lists sessions.
func (p *RemoteProvider) ListSessions(ctx context.Context) ([]Session, error) {
	var sessions []Session
	if err := p.do(ctx, "list_sessions", http.MethodGet, "/sessions", nil, nil, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// ProgressSummary counts tasks client-side.
func (p *RemoteProvider) ProgressSummary(ctx context.Context) (Counts, error) {
	tasks, err := p.ListTasks(ctx, TaskFilter{})
	if err != nil {
		return Counts{}, err
	}
	return CountTasks(tasks), nil
}

// do performs one logical call with retries.
func (p *RemoteProvider) do(ctx context.Context, op, method, path string, query url.Values, headers map[string]string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", op, err)
		}
	}

	attempt := 0
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempt++

		_, err := p.breaker.Execute(func() (interface{}, error) {
			return nil, p.send(ctx, op, method, path, query, headers, payload, out)
		})
		if err == nil {
			return nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(&ProviderError{Op: op, Err: err, Transient: true})
		}
		if ctx.Err() != nil || !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.initial
	policy.MaxInterval = p.maxInterval
	policy.MaxElapsedTime = 0
	policy.Multiplier = 2.0
	policy.RandomizationFactor = 0.5

	retries := backoff.WithMaxRetries(policy, uint64(p.maxAttempts-1))
	notify := func(err error, wait time.Duration) {
		p.log.Warn("tracker call failed, retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(retries, ctx), notify)
}

// send performs a single HTTP round trip and maps the status code.
func (p *RemoteProvider) send(ctx context.Context, op, method, path string, query url.Values, headers map[string]string, payload []byte, out interface{}) error {
	u := *p.base
	u.Path = p.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if p.team != "" {
		req.Header.Set("X-Team", p.team)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &ProviderError{Op: op, Err: err, Transient: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &ProviderError{Op: op, Err: fmt.Errorf("failed to read response: %w", err), Transient: true}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &ProviderError{Op: op, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", op, path, ErrNotFound)
	case resp.StatusCode == http.StatusConflict:
		var cb conflictBody
		_ = json.Unmarshal(data, &cb)
		return &ConflictError{Actual: cb.ActualStatus, ActualSession: cb.ActualSessionID}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &ProviderError{Op: op, Err: httpError(resp.StatusCode, data), Transient: true}
	default:
		return &ProviderError{Op: op, Err: httpError(resp.StatusCode, data)}
	}
}

func httpError(code int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		return fmt.Errorf("HTTP %d", code)
	}
	return fmt.Errorf("HTTP %d: %s", code, msg)
}
