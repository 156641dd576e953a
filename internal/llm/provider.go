// Package llm wraps chat-completion backends behind a single Provider
// interface with blocking and streaming calls.
package llm

import (
	"context"
	"strings"
)

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Stream sends a completion request and returns a channel of chunks that
	// is closed when generation ends. Connection errors are returned
	// directly; mid-stream failures arrive as a chunk with Err set.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
	// Name returns the name of this provider.
	Name() string
}

// StreamChunk is one increment of a streamed completion. The final chunk
// usually carries usage and the finish reason with an empty Delta.
type StreamChunk struct {
	Delta        string
	InputTokens  int
	OutputTokens int
	FinishReason string
	Err          error
}

// streamBufferSize bounds how far a producer runs ahead of its consumer.
const streamBufferSize = 16

// send delivers a chunk unless ctx is done first.
func send(ctx context.Context, ch chan<- StreamChunk, chunk StreamChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// Collect drains a stream into a CompletionResponse. The first chunk error
// is returned along with whatever text arrived before it.
func Collect(ch <-chan StreamChunk) (*CompletionResponse, error) {
	var sb strings.Builder
	resp := &CompletionResponse{}
	for chunk := range ch {
		if chunk.Err != nil {
			resp.Content = sb.String()
			return resp, chunk.Err
		}
		sb.WriteString(chunk.Delta)
		if chunk.InputTokens > 0 {
			resp.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			resp.OutputTokens = chunk.OutputTokens
		}
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
	}
	resp.Content = sb.String()
	return resp, nil
}
