package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thruflo/autocoder/internal/approval"
	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/ratelimit"
)

// Sink receives pushed progress events.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// notifyKey is the limiter key shared by all sinks.
const notifyKey = "notify"

// Notifier pushes significant events to sinks, dropping events over the
// rate limit. Sinks that keep failing are blocked for a while.
type Notifier struct {
	limiter *ratelimit.Limiter
	sinks   []Sink
	logger  *logging.Logger

	mu      sync.Mutex
	dropped int
	sent    int
}

// NewNotifier creates a Notifier admitting maxPerWindow events per window.
func NewNotifier(maxPerWindow int, window time.Duration, logger *logging.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{
		limiter: ratelimit.New(ratelimit.Config{MaxEvents: maxPerWindow, Window: window, BlockAfter: 3}),
		sinks:   sinks,
		logger:  logger,
	}
}

// Notify delivers ev if it is significant and under the rate limit.
func (n *Notifier) Notify(ctx context.Context, ev Event) {
	if !ev.Kind.Significant() || len(n.sinks) == 0 {
		return
	}
	if !n.limiter.Allow(notifyKey) {
		n.mu.Lock()
		n.dropped++
		n.mu.Unlock()
		n.logger.Debug("progress notification dropped", "event", ev.Kind, "task", ev.TaskID)
		return
	}

	for _, s := range n.sinks {
		key := "sink:" + s.Name()
		if retryAfter, blocked := n.limiter.Blocked(key); blocked {
			n.logger.Debug("progress sink blocked", "sink", s.Name(), "retry_after", retryAfter)
			continue
		}
		if err := s.Send(ctx, ev); err != nil {
			n.limiter.RecordFailure(key)
			n.logger.Warn("progress notification failed", "sink", s.Name(), "error", err)
			continue
		}
		n.limiter.RecordSuccess(key)
		n.mu.Lock()
		n.sent++
		n.mu.Unlock()
	}
}

// Observer adapts the Notifier for Tracker.Subscribe.
func (n *Notifier) Observer(ctx context.Context) func(Event, Counters) {
	return func(ev Event, _ Counters) {
		n.Notify(ctx, ev)
	}
}

// Dropped returns the number of events dropped by the rate limit.
func (n *Notifier) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Sent returns the number of successful sink deliveries.
func (n *Notifier) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

// message renders an event as one line of text.
func message(ev Event) string {
	switch ev.Kind {
	case TaskCompleted:
		return fmt.Sprintf("Task completed: %s", ev.Title)
	case BlockerDetected:
		return fmt.Sprintf("Task blocked: %s (%s)", ev.Title, ev.Detail)
	case SessionEnded:
		return fmt.Sprintf("Session ended: %s", ev.Detail)
	default:
		return fmt.Sprintf("%s: %s", ev.Kind, ev.Title)
	}
}

type webhookSink struct {
	ch *approval.WebhookChannel
}

// WebhookSink pushes events through a webhook channel.
func WebhookSink(ch *approval.WebhookChannel) Sink {
	return webhookSink{ch: ch}
}

func (s webhookSink) Name() string { return config.ChannelWebhook }

func (s webhookSink) Send(ctx context.Context, ev Event) error {
	return s.ch.Post(ctx, approval.WebhookPayload{
		Kind:      ev.Kind.String(),
		TaskID:    ev.TaskID,
		Text:      message(ev),
		CreatedAt: ev.At,
	})
}

type desktopSink struct {
	ch *approval.DesktopChannel
}

// DesktopSink shows events as OS notifications.
func DesktopSink(ch *approval.DesktopChannel) Sink {
	return desktopSink{ch: ch}
}

func (s desktopSink) Name() string { return config.ChannelDesktop }

func (s desktopSink) Send(ctx context.Context, ev Event) error {
	return s.ch.Show("autocoder: "+ev.Kind.String(), message(ev))
}

// NotifierFromConfig builds a Notifier with the webhook and desktop sinks
// named in cfg's notification channels.
func NotifierFromConfig(cfg *config.Config, logger *logging.Logger) *Notifier {
	n := cfg.Approval.Notification
	var sinks []Sink
	for _, name := range n.Channels {
		switch name {
		case config.ChannelWebhook:
			if url := cfg.ResolveSecret(n.WebhookURLEnv); url != "" {
				sinks = append(sinks, WebhookSink(approval.NewWebhookChannel(url, nil)))
			}
		case config.ChannelDesktop:
			sinks = append(sinks, DesktopSink(approval.NewDesktopChannel()))
		}
	}
	return NewNotifier(n.MaxPerWindow, time.Duration(n.MinIntervalSeconds)*time.Second, logger, sinks...)
}
