// Package approval resolves checkpoints by asking a human through one or
// more notification channels, falling back to a configured default action
// when nobody answers in time.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/thruflo/autocoder/internal/checkpoint"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
)

// Decision is a human answer to a Request.
type Decision int

const (
	Approve Decision = iota
	Reject
)

// String returns a human-readable representation of the decision.
func (d Decision) String() string {
	switch d {
	case Approve:
		return "approve"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// ParseDecision parses "approve" or "reject".
func ParseDecision(s string) (Decision, error) {
	switch s {
	case "approve", "approved", "yes", "y":
		return Approve, nil
	case "reject", "rejected", "no", "n":
		return Reject, nil
	default:
		return Approve, fmt.Errorf("unknown decision %q", s)
	}
}

// Action is what the runner does once a checkpoint is resolved.
type Action int

const (
	Pause Action = iota
	Continue
	Abort
)

// String returns a human-readable representation of the action.
func (a Action) String() string {
	switch a {
	case Pause:
		return config.ActionPause
	case Continue:
		return config.ActionContinue
	case Abort:
		return config.ActionAbort
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses a config default_action value.
func ParseAction(s string) (Action, error) {
	switch s {
	case config.ActionPause:
		return Pause, nil
	case config.ActionContinue:
		return Continue, nil
	case config.ActionAbort:
		return Abort, nil
	default:
		return Pause, fmt.Errorf("unknown action %q", s)
	}
}

// Request describes a pending action awaiting sign-off.
type Request struct {
	ID        string             `json:"id"`
	Trigger   checkpoint.Trigger `json:"-"`
	TaskID    string             `json:"task_id,omitempty"`
	Summary   string             `json:"summary"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewRequest builds a Request for a fired checkpoint.
func NewRequest(ev checkpoint.Event) Request {
	summary := ev.Detail
	if summary == "" {
		summary = "checkpoint: " + ev.Trigger.String()
	}
	return Request{
		ID:        uuid.NewString(),
		Trigger:   ev.Trigger,
		TaskID:    ev.TaskID,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
}

// Resolution is the outcome of Handler.Resolve.
type Resolution struct {
	Decision  Decision
	Action    Action
	ByTimeout bool
	// Channel names the channel that answered. Empty when auto-resolved.
	Channel string
}

// String renders the resolution for logs and the audit trail.
func (r Resolution) String() string {
	if r.ByTimeout {
		return fmt.Sprintf("auto-resolved: %s (timeout)", r.Action)
	}
	if r.Channel == "" {
		return fmt.Sprintf("auto-resolved: %s", r.Action)
	}
	return fmt.Sprintf("%s via %s: %s", r.Decision, r.Channel, r.Action)
}

// Channel delivers approval requests to a human.
type Channel interface {
	Name() string
	Notify(ctx context.Context, req Request) error
}

// Responder is a Channel that can also collect an answer.
type Responder interface {
	Channel
	Await(ctx context.Context, req Request) (Decision, error)
}

// Handler resolves checkpoints.
type Handler struct {
	channels      []Channel
	timeout       time.Duration
	defaultAction Action
	logger        *logging.Logger
}

// NewHandler creates a Handler. A zero timeout resolves to defaultAction
// immediately.
func NewHandler(timeout time.Duration, defaultAction Action, logger *logging.Logger, channels ...Channel) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		channels:      channels,
		timeout:       timeout,
		defaultAction: defaultAction,
		logger:        logger,
	}
}

// Channels returns the configured channel names.
func (h *Handler) Channels() []string {
	names := make([]string, len(h.channels))
	for i, c := range h.channels {
		names[i] = c.Name()
	}
	return names
}

// Resolve notifies every channel concurrently, then blocks until a
// responder answers or the timeout elapses. Approve continues and Reject
// pauses. On timeout the default action applies and is logged as such.
// Cancelling ctx pauses.
func (h *Handler) Resolve(ctx context.Context, req Request) Resolution {
	log := h.logger.With("request", req.ID).With("trigger", req.Trigger)

	var g errgroup.Group
	for _, c := range h.channels {
		g.Go(func() error {
			if err := c.Notify(ctx, req); err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("approval notification failed", "error", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	type answer struct {
		decision Decision
		channel  string
	}
	answers := make(chan answer, len(h.channels))
	for _, c := range h.channels {
		r, ok := c.(Responder)
		if !ok {
			continue
		}
		go func() {
			d, err := r.Await(waitCtx, req)
			if err != nil {
				if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
					log.Warn("approval channel failed", "channel", r.Name(), "error", err)
				}
				return
			}
			answers <- answer{decision: d, channel: r.Name()}
		}()
	}

	select {
	case a := <-answers:
		res := Resolution{Decision: a.decision, Action: Continue, Channel: a.channel}
		if a.decision == Reject {
			res.Action = Pause
		}
		log.Info("checkpoint resolved", "resolution", res)
		return res

	case <-waitCtx.Done():
		if ctx.Err() != nil {
			res := Resolution{Decision: Reject, Action: Pause}
			log.Info("checkpoint cancelled", "resolution", res)
			return res
		}
		res := Resolution{Decision: Reject, Action: h.defaultAction, ByTimeout: true}
		if h.defaultAction == Continue {
			res.Decision = Approve
		}
		log.Warn(res.String(), "timeout", h.timeout)
		return res
	}
}
