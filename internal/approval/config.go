package approval

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
)

// Options carries process handles used when building channels.
type Options struct {
	Stdin  *os.File
	Stdout io.Writer
	Logger *logging.Logger
}

// FromConfig builds a Handler from the approval section of cfg. Channels
// that cannot work in this process, such as terminal without a TTY or
// webhook without a URL, are skipped with a warning.
func FromConfig(cfg *config.Config, basePath string, opts Options) (*Handler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	action, err := ParseAction(cfg.Approval.DefaultAction)
	if err != nil {
		return nil, err
	}
	timeout := time.Duration(cfg.Approval.TimeoutMinutes * float64(time.Minute))

	var channels []Channel
	for _, name := range cfg.Approval.Notification.Channels {
		switch name {
		case config.ChannelTerminal:
			if opts.Stdin == nil || opts.Stdout == nil {
				logger.Warn("terminal approval channel unavailable", "reason", "no stdio")
				continue
			}
			c, ok := NewTerminalChannel(opts.Stdin, opts.Stdout)
			if !ok {
				logger.Warn("terminal approval channel unavailable", "reason", "stdin is not a terminal")
				continue
			}
			channels = append(channels, c)
		case config.ChannelFile:
			channels = append(channels, NewFileChannel(Dir(basePath)))
		case config.ChannelWebhook:
			url := cfg.ResolveSecret(cfg.Approval.Notification.WebhookURLEnv)
			if url == "" {
				logger.Warn("webhook approval channel unavailable", "env", cfg.Approval.Notification.WebhookURLEnv)
				continue
			}
			channels = append(channels, NewWebhookChannel(url, nil))
		case config.ChannelDesktop:
			channels = append(channels, NewDesktopChannel())
		default:
			return nil, fmt.Errorf("unknown notification channel %q", name)
		}
	}

	return NewHandler(timeout, action, logger, channels...), nil
}
