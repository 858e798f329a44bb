package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/thruflo/autocoder/internal/config"
)

// Anthropic calls the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int
	pricing   Pricing
	estimator *TokenEstimator
}

// NewAnthropic creates an Anthropic backend.
func NewAnthropic(opts APIOptions) *Anthropic {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &Anthropic{
		client:    anthropic.NewClient(reqOpts...),
		model:     pick(opts.Model, config.DefaultModel),
		maxTokens: pickInt(opts.MaxTokens, config.DefaultMaxTokens),
		pricing:   opts.Pricing,
		estimator: NewTokenEstimator(),
	}
}

// Name returns the backend name.
func (a *Anthropic) Name() string { return config.BackendAnthropic }

// Complete sends the prompt as a single user message.
func (a *Anthropic) Complete(ctx context.Context, req Request) (Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(pick(req.Model, a.model)),
		MaxTokens: int64(pickInt(req.MaxTokens, a.maxTokens)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("anthropic request failed: %w", err)
	}
	if msg == nil || len(msg.Content) == 0 {
		return Response{}, fmt.Errorf("empty response from anthropic")
	}

	var text strings.Builder
	for i := range msg.Content {
		block := &msg.Content[i]
		if block.Type == "text" {
			text.WriteString(block.AsText().Text)
		}
	}

	resp := Response{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Turns:        1,
	}
	a.estimator.Fill(&resp, req, a.pricing)
	return resp, nil
}
