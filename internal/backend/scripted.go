package backend

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by Scripted once every reply is used.
var ErrScriptExhausted = errors.New("scripted backend has no more replies")

// Reply is one scripted answer.
type Reply struct {
	Text    string
	CostUSD float64
	Err     error
}

// Scripted is an in-memory Backend for tests. It answers from a queue of
// replies, or from a function when one is set.
type Scripted struct {
	mu      sync.Mutex
	replies []Reply
	fn      func(Request) Reply
	calls   []Request
}

// NewScripted returns a backend replaying replies in order.
func NewScripted(replies ...Reply) *Scripted {
	return &Scripted{replies: replies}
}

// NewScriptedFunc returns a backend answering with fn.
func NewScriptedFunc(fn func(Request) Reply) *Scripted {
	return &Scripted{fn: fn}
}

// Name returns "scripted".
func (s *Scripted) Name() string { return "scripted" }

// Complete returns the next reply.
func (s *Scripted) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	s.mu.Lock()
	s.calls = append(s.calls, req)
	var r Reply
	switch {
	case s.fn != nil:
		fn := s.fn
		s.mu.Unlock()
		r = fn(req)
	case len(s.replies) > 0:
		r = s.replies[0]
		s.replies = s.replies[1:]
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		return Response{}, ErrScriptExhausted
	}

	if r.Err != nil {
		return Response{}, r.Err
	}
	return Response{Text: r.Text, CostUSD: r.CostUSD, Turns: 1}, nil
}

// Calls returns every request received.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}
