package backend

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType identifies the type of a Claude stream-json event.
type EventType string

const (
	EventTypeSystem    EventType = "system"
	EventTypeAssistant EventType = "assistant"
	EventTypeUser      EventType = "user"
	EventTypeResult    EventType = "result"
)

// StreamEvent is one line of `claude --output-format stream-json` output.
type StreamEvent struct {
	Type      EventType `json:"type"`
	Subtype   string    `json:"subtype,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Message   *Message  `json:"message,omitempty"`

	// Result fields.
	Result       string  `json:"result,omitempty"`
	IsError      bool    `json:"is_error,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
	NumTurns     int     `json:"num_turns,omitempty"`
	Usage        *Usage  `json:"usage,omitempty"`
}

// Usage is the token usage reported on a result event.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Message is a Claude message with content blocks.
type Message struct {
	Content []ContentBlock `json:"content"`
}

// ContentBlock is one text or tool block.
type ContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ParseStreamEvent parses a line of stream-json output.
// Returns nil, nil for a blank line.
func ParseStreamEvent(line string) (*StreamEvent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	var ev StreamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil, fmt.Errorf("failed to parse stream event: %w", err)
	}
	return &ev, nil
}

// Cost returns the reported session cost, preferring total_cost_usd.
func (e *StreamEvent) Cost() float64 {
	if e.TotalCostUSD > 0 {
		return e.TotalCostUSD
	}
	return e.CostUSD
}

// Text returns the concatenated text blocks of a message event.
func (e *StreamEvent) Text() string {
	if e.Message == nil {
		return ""
	}
	var b strings.Builder
	for _, block := range e.Message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

// ToolUses returns the names of tools used in an assistant event.
func (e *StreamEvent) ToolUses() []string {
	if e.Type != EventTypeAssistant || e.Message == nil {
		return nil
	}
	var names []string
	for _, block := range e.Message.Content {
		if block.Type == "tool_use" {
			names = append(names, block.Name)
		}
	}
	return names
}

// StreamState accumulates a stream into a Response.
type StreamState struct {
	SessionID string
	ToolUses  []string
	// Malformed counts lines that were not JSON, such as stderr noise.
	Malformed int

	texts  []string
	result *StreamEvent
}

// Update folds one output line into the state.
func (s *StreamState) Update(line string) {
	ev, err := ParseStreamEvent(line)
	if err != nil {
		s.Malformed++
		return
	}
	if ev == nil {
		return
	}
	if ev.SessionID != "" {
		s.SessionID = ev.SessionID
	}
	switch ev.Type {
	case EventTypeAssistant:
		if text := ev.Text(); text != "" {
			s.texts = append(s.texts, text)
		}
		s.ToolUses = append(s.ToolUses, ev.ToolUses()...)
	case EventTypeResult:
		s.result = ev
	}
}

// Done reports whether a result event was seen.
func (s *StreamState) Done() bool {
	return s.result != nil
}

// Failed reports whether the result event signalled an error.
func (s *StreamState) Failed() bool {
	return s.result != nil && (s.result.IsError || strings.HasPrefix(s.result.Subtype, "error"))
}

// Response builds the reply. The result text wins over streamed assistant
// text when both are present.
func (s *StreamState) Response() Response {
	resp := Response{Text: strings.Join(s.texts, "\n"), Turns: 1}
	if s.result == nil {
		return resp
	}
	if s.result.Result != "" {
		resp.Text = s.result.Result
	}
	resp.CostUSD = s.result.Cost()
	if s.result.NumTurns > 0 {
		resp.Turns = s.result.NumTurns
	}
	if s.result.Usage != nil {
		resp.InputTokens = s.result.Usage.InputTokens
		resp.OutputTokens = s.result.Usage.OutputTokens
	}
	return resp
}
