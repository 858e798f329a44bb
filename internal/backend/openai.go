package backend

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/thruflo/autocoder/internal/config"
)

// DefaultOpenAIModel is used when the configured model is a Claude model.
const DefaultOpenAIModel = "gpt-5"

// OpenAI calls the OpenAI Responses API.
type OpenAI struct {
	client    openai.Client
	model     string
	maxTokens int
	pricing   Pricing
	estimator *TokenEstimator
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(opts APIOptions) *OpenAI {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	model := opts.Model
	if model == "" || model == config.DefaultModel {
		model = DefaultOpenAIModel
	}
	return &OpenAI{
		client:    openai.NewClient(reqOpts...),
		model:     model,
		maxTokens: pickInt(opts.MaxTokens, config.DefaultMaxTokens),
		pricing:   opts.Pricing,
		estimator: NewTokenEstimator(),
	}
}

// Name returns the backend name.
func (o *OpenAI) Name() string { return config.BackendOpenAI }

// Complete sends the prompt with the system text as instructions.
func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	params := responses.ResponseNewParams{
		Model:           pick(req.Model, o.model),
		MaxOutputTokens: openai.Int(int64(pickInt(req.MaxTokens, o.maxTokens))),
		Input:           responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Prompt)},
	}
	if req.System != "" {
		params.Instructions = openai.String(req.System)
	}

	r, err := o.client.Responses.New(ctx, params)
	if err != nil {
		return Response{}, fmt.Errorf("openai request failed: %w", err)
	}
	if r == nil {
		return Response{}, fmt.Errorf("empty response from openai")
	}

	resp := Response{
		Text:         r.OutputText(),
		InputTokens:  int(r.Usage.InputTokens),
		OutputTokens: int(r.Usage.OutputTokens),
		Turns:        1,
	}
	o.estimator.Fill(&resp, req, o.pricing)
	return resp, nil
}
