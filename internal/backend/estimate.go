package backend

import (
	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator counts tokens locally for backends that report no usage.
// Claude tokenization is approximated with the GPT-4 encoding.
type TokenEstimator struct {
	codec tokenizer.Codec
}

// NewTokenEstimator returns an estimator. If the codec cannot be loaded it
// falls back to four characters per token.
func NewTokenEstimator() *TokenEstimator {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return &TokenEstimator{}
	}
	return &TokenEstimator{codec: codec}
}

// Count returns the number of tokens in text.
func (e *TokenEstimator) Count(text string) int {
	if e.codec == nil {
		return len(text) / 4
	}
	n, err := e.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// Fill sets missing token counts and the cost on resp.
func (e *TokenEstimator) Fill(resp *Response, req Request, p Pricing) {
	if resp.InputTokens == 0 && resp.OutputTokens == 0 {
		resp.InputTokens = e.Count(req.System) + e.Count(req.Prompt)
		resp.OutputTokens = e.Count(resp.Text)
		resp.Estimated = true
	}
	resp.CostUSD = p.Cost(resp.InputTokens, resp.OutputTokens)
}
