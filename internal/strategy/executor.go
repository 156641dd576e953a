package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ziadkadry99/ragbudget/internal/llm"
)

// GenerationError reports a failed generation call.
type GenerationError struct {
	Mode Mode
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("strategy: %s generation: %v", e.Mode, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EmitFunc receives generated text as it arrives. Returning an error stops
// generation.
type EmitFunc func(delta string) error

// Request is one generation job.
type Request struct {
	Mode     Mode
	System   string
	Messages []llm.Message
	Stream   bool
	// MaxTokens caps the mode limit when positive.
	MaxTokens int
}

// Usage totals provider-reported tokens across the answer and its extension.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is a finished generation.
type Result struct {
	Text       string     `json:"text"`
	Mode       Mode       `json:"mode"`
	Extended   bool       `json:"extended"`
	Tokens     int        `json:"tokens"`
	Usage      Usage      `json:"usage"`
	Validation Validation `json:"validation"`
}

// Executor runs generation requests against a provider.
type Executor struct {
	provider llm.Provider
	model    string
	modes    map[Mode]ModeConfig
	logger   *slog.Logger
}

// NewExecutor creates an Executor. Modes missing from modes use the defaults.
func NewExecutor(provider llm.Provider, model string, modes map[Mode]ModeConfig, logger *slog.Logger) *Executor {
	merged := DefaultModes()
	for m, cfg := range modes {
		merged[m] = cfg
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{provider: provider, model: model, modes: merged, logger: logger}
}

// Config returns the settings of mode m, falling back to quick.
func (e *Executor) Config(m Mode) ModeConfig {
	if cfg, ok := e.modes[m]; ok {
		return cfg
	}
	return e.modes[ModeQuick]
}

// emitError marks an error returned by the consumer's EmitFunc.
type emitError struct{ err error }

func (e *emitError) Error() string { return e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Run generates an answer, validates its length and, when it is short and
// the mode allows it, asks for exactly one continuation. Consumer and
// context cancellation errors are returned as-is; provider failures on the
// first call come back as *GenerationError. A failed extension keeps the
// original answer.
func (e *Executor) Run(ctx context.Context, req Request, emit EmitFunc) (*Result, error) {
	if emit == nil {
		emit = func(string) error { return nil }
	}
	cfg := e.Config(req.Mode)
	maxTokens := cfg.MaxTokens
	if req.MaxTokens > 0 && (maxTokens == 0 || req.MaxTokens < maxTokens) {
		maxTokens = req.MaxTokens
	}

	messages := make([]llm.Message, 0, len(req.Messages)+3)
	if req.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	call := llm.CompletionRequest{
		Model:       e.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	}
	text, usage, err := e.generate(ctx, call, req.Stream, emit)
	if err != nil {
		if stop := stopError(ctx, err); stop != nil {
			return nil, stop
		}
		return nil, &GenerationError{Mode: req.Mode, Err: err}
	}

	validator := Validator{Min: cfg.MinTokens, Max: cfg.MaxTokens}
	res := &Result{Text: text, Mode: req.Mode, Usage: usage, Validation: validator.Validate(text)}

	if res.Validation.Short && cfg.AllowExtension {
		e.logger.Info("strategy: extending short answer",
			"mode", req.Mode, "tokens", res.Validation.Tokens, "min", cfg.MinTokens)

		// The separator goes out just before the first extension delta so a
		// continuation that fails up front leaves the output untouched.
		pending := true
		extEmit := func(delta string) error {
			if pending {
				pending = false
				if err := emit(cfg.Separator); err != nil {
					return err
				}
			}
			return emit(delta)
		}

		ext := call
		ext.Messages = append(append([]llm.Message(nil), messages...),
			llm.Message{Role: llm.RoleAssistant, Content: text},
			llm.Message{Role: llm.RoleUser, Content: cfg.ExtensionPrompt},
		)
		more, extUsage, err := e.generate(ctx, ext, req.Stream, extEmit)
		switch {
		case err != nil:
			if stop := stopError(ctx, err); stop != nil {
				return nil, stop
			}
			e.logger.Warn("strategy: extension failed, keeping original answer", "mode", req.Mode, "error", err)
		case more != "":
			res.Text = text + cfg.Separator + more
			res.Extended = true
			res.Usage.InputTokens += extUsage.InputTokens
			res.Usage.OutputTokens += extUsage.OutputTokens
			res.Validation = validator.Validate(res.Text)
		}
	}

	res.Tokens = res.Validation.Tokens
	return res, nil
}

// stopError returns the error to surface when generation was stopped by
// the consumer or the context rather than by the provider.
func stopError(ctx context.Context, err error) error {
	var ee *emitError
	if errors.As(err, &ee) {
		return ee.err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func (e *Executor) generate(ctx context.Context, req llm.CompletionRequest, stream bool, emit EmitFunc) (string, Usage, error) {
	if !stream {
		resp, err := e.provider.Complete(ctx, req)
		if err != nil {
			return "", Usage{}, err
		}
		if resp.Content != "" {
			if err := emit(resp.Content); err != nil {
				return "", Usage{}, &emitError{err}
			}
		}
		return resp.Content, Usage{InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}, nil
	}

	ch, err := e.provider.Stream(ctx, req)
	if err != nil {
		return "", Usage{}, err
	}
	var sb strings.Builder
	var usage Usage
	for chunk := range ch {
		if chunk.Err != nil {
			drain(ch)
			return sb.String(), usage, chunk.Err
		}
		if chunk.InputTokens > 0 {
			usage.InputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			usage.OutputTokens = chunk.OutputTokens
		}
		if chunk.Delta == "" {
			continue
		}
		sb.WriteString(chunk.Delta)
		if err := emit(chunk.Delta); err != nil {
			drain(ch)
			return sb.String(), usage, &emitError{err}
		}
	}
	if err := ctx.Err(); err != nil {
		return sb.String(), usage, err
	}
	return sb.String(), usage, nil
}

// drain discards the rest of a stream in the background so the producer
// goroutine can exit.
func drain(ch <-chan llm.StreamChunk) {
	go func() {
		for range ch {
		}
	}()
}
