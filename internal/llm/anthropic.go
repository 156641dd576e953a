package llm

import (
	"context"
	"fmt"
	"strings"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	client sdkanthropic.Client
	model  string
}

// NewAnthropicProvider creates a new Anthropic provider. A non-empty baseURL
// overrides the API endpoint.
func NewAnthropicProvider(apiKey, model, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: sdkanthropic.NewClient(opts...),
		model:  model,
	}
}

func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// params splits leading system messages into the System field; Anthropic
// does not accept them inline.
func (p *AnthropicProvider) params(req CompletionRequest) sdkanthropic.MessageNewParams {
	var system []sdkanthropic.TextBlockParam
	var messages []sdkanthropic.MessageParam
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, sdkanthropic.TextBlockParam{Text: msg.Content})
		case RoleUser:
			messages = append(messages, sdkanthropic.NewUserMessage(sdkanthropic.NewTextBlock(msg.Content)))
		case RoleAssistant:
			messages = append(messages, sdkanthropic.NewAssistantMessage(sdkanthropic.NewTextBlock(msg.Content)))
		}
	}

	params := sdkanthropic.MessageNewParams{
		Model:     sdkanthropic.Model(req.model(p.model)),
		MaxTokens: int64(req.maxTokens()),
		Messages:  messages,
		System:    system,
	}
	if req.Temperature > 0 {
		params.Temperature = sdkanthropic.Float(req.Temperature)
	}
	return params
}

func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("llm: anthropic: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &CompletionResponse{
		Content:      sb.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		Model:        string(msg.Model),
		FinishReason: string(msg.StopReason),
	}, nil
}

func (p *AnthropicProvider) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))

	// Read the first event here so auth and network failures reach the
	// caller as a plain error.
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, fmt.Errorf("llm: anthropic stream: %w", err)
		}
		ch := make(chan StreamChunk)
		close(ch)
		return ch, nil
	}
	first := stream.Current()

	ch := make(chan StreamChunk, streamBufferSize)
	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		var inputTokens int
		handle := func(event sdkanthropic.MessageStreamEventUnion) bool {
			switch ev := event.AsAny().(type) {
			case sdkanthropic.MessageStartEvent:
				inputTokens = int(ev.Message.Usage.InputTokens)
			case sdkanthropic.ContentBlockDeltaEvent:
				if delta, ok := ev.Delta.AsAny().(sdkanthropic.TextDelta); ok && delta.Text != "" {
					return send(ctx, ch, StreamChunk{Delta: delta.Text})
				}
			case sdkanthropic.MessageDeltaEvent:
				return send(ctx, ch, StreamChunk{
					InputTokens:  inputTokens,
					OutputTokens: int(ev.Usage.OutputTokens),
					FinishReason: string(ev.Delta.StopReason),
				})
			}
			return true
		}

		if !handle(first) {
			return
		}
		for stream.Next() {
			if !handle(stream.Current()) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, StreamChunk{Err: fmt.Errorf("llm: anthropic stream: %w", err)})
		}
	}()
	return ch, nil
}
