// Package backend invokes the generative model that does the work on a task.
//
// Every backend answers one prompt with one reply. The runner owns the
// conversation and builds each prompt from scratch, so no backend keeps
// state between calls.
package backend

import (
	"context"
	"fmt"

	"github.com/thruflo/autocoder/internal/config"
	"github.com/thruflo/autocoder/internal/logging"
	"github.com/thruflo/autocoder/internal/sprite"
)

// Backend produces a completion for a prompt.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is a single prompt.
type Request struct {
	System    string
	Prompt    string
	Model     string
	MaxTokens int
	// WorkDir is where local backends run the model.
	WorkDir string
}

// Response is a model reply and what it cost.
type Response struct {
	Text         string
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	Turns        int
	// Estimated is set when the token counts were estimated locally.
	Estimated bool
}

// Pricing converts token counts to USD.
type Pricing struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// Cost returns the price of a call.
func (p Pricing) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerMTok/1e6 + float64(outputTokens)*p.OutputPerMTok/1e6
}

// PricingFromConfig reads the configured per-million-token prices.
func PricingFromConfig(cfg *config.Config) Pricing {
	return Pricing{
		InputPerMTok:  cfg.Backends.InputCostPerMTok,
		OutputPerMTok: cfg.Backends.OutputCostPerMTok,
	}
}

// Options carries process-level values New cannot read from config.
type Options struct {
	// HookBinary is the autocoder executable registered as the Claude Code
	// PreToolUse hook. Empty disables hook registration.
	HookBinary string
	// HookConfig is the config file the hook loads. Empty means the
	// project's default config.
	HookConfig string
	// WorkDir is the absolute directory the agent works in.
	WorkDir string
	Logger  *logging.Logger
}

// New selects a backend by cfg.Backend, resolving credentials through the
// configured environment variables.
func New(cfg *config.Config, opts Options) (Backend, error) {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	pricing := PricingFromConfig(cfg)

	claudeOpts := ClaudeOptions{
		Path:       cfg.Backends.ClaudePath,
		Model:      cfg.Model,
		HookBinary: opts.HookBinary,
		HookConfig: opts.HookConfig,
		Pricing:    pricing,
		Logger:     opts.Logger,
	}

	switch cfg.Backend {
	case config.BackendClaudeCLI:
		return NewClaudeCLI(claudeOpts), nil

	case config.BackendSprite:
		token := cfg.ResolveSecret(cfg.Backends.SpriteTokenEnv)
		if token == "" {
			return nil, fmt.Errorf("sprite backend requires %s to be set", cfg.Backends.SpriteTokenEnv)
		}
		name := cfg.Backends.SpriteName
		if name == "" {
			name = sprite.GenerateName(cfg.ProjectName, opts.WorkDir)
		}
		return NewSprite(sprite.NewSDKClient(token), name, claudeOpts), nil

	case config.BackendAnthropic:
		key := cfg.ResolveSecret(cfg.Backends.AnthropicKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("anthropic backend requires %s to be set", cfg.Backends.AnthropicKeyEnv)
		}
		return NewAnthropic(APIOptions{
			APIKey:    key,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Pricing:   pricing,
		}), nil

	case config.BackendOpenAI:
		key := cfg.ResolveSecret(cfg.Backends.OpenAIKeyEnv)
		if key == "" {
			return nil, fmt.Errorf("openai backend requires %s to be set", cfg.Backends.OpenAIKeyEnv)
		}
		return NewOpenAI(APIOptions{
			APIKey:    key,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Pricing:   pricing,
		}), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// APIOptions configures the SDK-backed backends.
type APIOptions struct {
	APIKey string
	// BaseURL overrides the API endpoint.
	BaseURL   string
	Model     string
	MaxTokens int
	Pricing   Pricing
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

func pickInt(override, fallback int) int {
	if override > 0 {
		return override
	}
	return fallback
}
