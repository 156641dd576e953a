// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"

	"github.com/ziadkadry99/ragbudget/internal/llm"
)

// Reply is one scripted generation. Deltas are streamed in order; Complete
// returns them joined.
type Reply struct {
	Deltas []string
	// Err fails the call before any output.
	Err error
	// StreamErr is delivered as a chunk after the deltas.
	StreamErr    error
	InputTokens  int
	OutputTokens int
}

// Text returns a Reply that streams text as a single delta.
func Text(text string) Reply {
	return Reply{Deltas: []string{text}, InputTokens: 10, OutputTokens: len(text) / 4}
}

// Provider replays Replies in order and records every request. When the
// script runs out the last reply repeats.
type Provider struct {
	mu      sync.Mutex
	replies []Reply
	next    int
	Calls   []llm.CompletionRequest
	Streams int
}

// New returns a Provider that plays replies in order.
func New(replies ...Reply) *Provider {
	return &Provider{replies: replies}
}

func (p *Provider) Name() string { return "scripted" }

func (p *Provider) take(req llm.CompletionRequest, stream bool) Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, req)
	if stream {
		p.Streams++
	}
	if len(p.replies) == 0 {
		return Reply{}
	}
	r := p.replies[min(p.next, len(p.replies)-1)]
	p.next++
	return r
}

// CallCount returns the number of requests seen.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Call returns a copy of the i-th request.
func (p *Provider) Call(i int) llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Calls[i]
}

func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	r := p.take(req, false)
	if r.Err != nil {
		return nil, r.Err
	}
	if r.StreamErr != nil {
		return nil, r.StreamErr
	}
	return &llm.CompletionResponse{
		Content:      strings.Join(r.Deltas, ""),
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		Model:        "scripted-model",
		FinishReason: "stop",
	}, nil
}

func (p *Provider) Stream(ctx context.Context, req llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	r := p.take(req, true)
	if r.Err != nil {
		return nil, r.Err
	}
	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		out := func(c llm.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, d := range r.Deltas {
			if !out(llm.StreamChunk{Delta: d}) {
				return
			}
		}
		if r.StreamErr != nil {
			out(llm.StreamChunk{Err: r.StreamErr})
			return
		}
		out(llm.StreamChunk{InputTokens: r.InputTokens, OutputTokens: r.OutputTokens, FinishReason: "stop"})
	}()
	return ch, nil
}
