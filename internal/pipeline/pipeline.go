// Package pipeline answers queries end to end: cache lookup, budget
// allocation, retrieval, compression, prompt assembly and generation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ziadkadry99/ragbudget/internal/budget"
	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/compress"
	"github.com/ziadkadry99/ragbudget/internal/complexity"
	"github.com/ziadkadry99/ragbudget/internal/history"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/llm"
	"github.com/ziadkadry99/ragbudget/internal/metrics"
	"github.com/ziadkadry99/ragbudget/internal/profile"
	"github.com/ziadkadry99/ragbudget/internal/prompt"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
	"github.com/ziadkadry99/ragbudget/internal/strategy"
	"github.com/ziadkadry99/ragbudget/internal/telemetry"
)

var (
	// ErrGeneration wraps every failed generation.
	ErrGeneration = errors.New("pipeline: generation failed")
	ErrEmptyQuery = errors.New("pipeline: empty query")
)

// Retriever finds context for a query. It never fails; backend errors
// yield fewer items.
type Retriever interface {
	Search(ctx context.Context, query string, topK int, f retrieval.Filters) []knowledge.Item
}

// Query is one user request.
type Query struct {
	Text      string
	SessionID string
	Deep      bool
	// Mode forces a generation mode. Empty selects one from complexity.
	Mode strategy.Mode
	// Stream overrides the streaming decision when set.
	Stream *bool
	Scope  knowledge.Scope
}

// Answer is the outcome of Ask.
type Answer struct {
	Text       string                 `json:"text"`
	Cached     bool                   `json:"cached"`
	Similarity float64                `json:"similarity,omitempty"`
	Mode       strategy.Mode          `json:"mode"`
	Level      complexity.Level       `json:"level"`
	Budget     budget.Budget          `json:"budget"`
	Quality    budget.QualityEstimate `json:"quality"`
	Items      int                    `json:"context_items"`
	Sources    []string               `json:"sources,omitempty"`
	Coverage   *retrieval.Coverage    `json:"coverage,omitempty"`
	Extended   bool                   `json:"extended"`
	Streamed   bool                   `json:"streamed"`
	Tokens     int                    `json:"tokens"`
	Usage      strategy.Usage         `json:"usage"`
	Validation strategy.Validation    `json:"validation"`
}

// Plan describes what Ask would do without generating.
type Plan struct {
	Budget        budget.Budget          `json:"budget"`
	Quality       budget.QualityEstimate `json:"quality"`
	Mode          strategy.Mode          `json:"mode"`
	Stream        bool                   `json:"stream"`
	Cached        bool                   `json:"cached"`
	Items         []knowledge.Item       `json:"items"`
	Coverage      retrieval.Coverage     `json:"coverage"`
	History       int                    `json:"history_messages"`
	SystemTokens  int                    `json:"system_tokens"`
	ContextTokens int                    `json:"context_tokens"`
	HistoryTokens int                    `json:"history_tokens"`
	System        string                 `json:"system_prompt"`
}

// UsageStats accumulates token usage for a session.
type UsageStats struct {
	SessionID     string  `json:"session_id"`
	Requests      int     `json:"requests"`
	CacheHits     int     `json:"cache_hits"`
	Extensions    int     `json:"extensions"`
	InputTokens   int     `json:"input_tokens"`
	OutputTokens  int     `json:"output_tokens"`
	EstimatedCost float64 `json:"estimated_cost_usd"`
}

// DefaultHistoryLimit is the number of past messages read per request.
const DefaultHistoryLimit = 50

// Options tunes a Pipeline.
type Options struct {
	TopK         int
	HistoryLimit int
	// Window is the model context window; zero uses the allocator default.
	Window int
	// Model prices usage statistics.
	Model string
}

// Deps are the collaborators of a Pipeline. Cache, History, Profile,
// Metrics and Tracer are optional.
type Deps struct {
	Allocator  *budget.Allocator
	Retriever  Retriever
	Compressor *compress.Engine
	Cache      *cache.Layer
	History    history.Store
	Prompts    *prompt.Builder
	Executor   *strategy.Executor
	Profile    *profile.Profile
	Metrics    *metrics.Metrics
	Tracer     trace.Tracer
	Logger     *slog.Logger
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	Deps
	opts Options

	mu    sync.Mutex
	usage map[string]*UsageStats
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if opts.TopK <= 0 {
		opts.TopK = retrieval.DefaultOptions().TopK
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	if deps.Prompts == nil {
		deps.Prompts = prompt.NewBuilder(nil, "")
	}
	return &Pipeline{Deps: deps, opts: opts, usage: make(map[string]*UsageStats)}
}

// prepared is the state reached after prompt assembly.
type prepared struct {
	budget   budget.Budget
	quality  budget.QualityEstimate
	mode     strategy.Mode
	stream   bool
	items    []knowledge.Item
	coverage retrieval.Coverage
	rawHist  int
	hist     []history.Entry
	system   string
	// contextTokens counts the context that reached the system prompt.
	contextTokens int
}

// Ask answers q, passing generated text to emit as it arrives. Errors from
// emit and context cancellation are returned unchanged. A failed
// generation returns an error wrapping ErrGeneration.
func (p *Pipeline) Ask(ctx context.Context, q Query, emit strategy.EmitFunc) (ans *Answer, err error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}
	if emit == nil {
		emit = func(string) error { return nil }
	}

	ctx, span := p.Tracer.Start(ctx, "pipeline.ask", trace.WithAttributes(
		attribute.String("session.id", q.SessionID),
		attribute.Bool("query.deep", q.Deep),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if cached, ok := p.lookup(ctx, q); ok {
		if err := emit(cached.Text); err != nil {
			return nil, err
		}
		p.record(q.SessionID, cached)
		p.Metrics.Request(string(cached.Mode), "cached")
		return cached, nil
	}

	pr := p.prepare(ctx, q)
	span.SetAttributes(
		attribute.String("query.level", string(pr.budget.Level)),
		attribute.String("strategy.mode", string(pr.mode)),
		attribute.Int("context.items", len(pr.items)),
	)

	genCtx, genSpan := p.Tracer.Start(ctx, "pipeline.generate")
	start := time.Now()
	res, err := p.Executor.Run(genCtx, strategy.Request{
		Mode:      pr.mode,
		System:    pr.system,
		Messages:  p.Prompts.Messages("", pr.hist, q.Text),
		Stream:    pr.stream,
		MaxTokens: pr.budget.Response,
	}, emit)
	p.Metrics.ObserveStage("generate", start)
	genSpan.End()
	if err != nil {
		var gerr *strategy.GenerationError
		if errors.As(err, &gerr) {
			p.Metrics.Request(string(pr.mode), "error")
			return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
		}
		p.Metrics.Request(string(pr.mode), "canceled")
		return nil, err
	}

	ans = &Answer{
		Text:       res.Text,
		Mode:       pr.mode,
		Level:      pr.budget.Level,
		Budget:     pr.budget,
		Quality:    pr.quality,
		Items:      len(pr.items),
		Sources:    prompt.Sources(pr.items),
		Coverage:   &pr.coverage,
		Extended:   res.Extended,
		Streamed:   pr.stream,
		Tokens:     res.Tokens,
		Usage:      res.Usage,
		Validation: res.Validation,
	}

	p.store(ctx, q, ans)
	p.record(q.SessionID, ans)
	p.Metrics.Request(string(pr.mode), "ok")
	p.Metrics.Tokens(res.Usage.InputTokens, res.Usage.OutputTokens)
	if res.Extended {
		p.Metrics.Extended()
	}
	return ans, nil
}

// Plan runs every stage up to prompt assembly and reports the decisions.
func (p *Pipeline) Plan(ctx context.Context, q Query) (*Plan, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, ErrEmptyQuery
	}
	ctx, span := p.Tracer.Start(ctx, "pipeline.plan")
	defer span.End()

	_, cached := p.lookup(ctx, q)
	pr := p.prepare(ctx, q)
	return &Plan{
		Budget:        pr.budget,
		Quality:       pr.quality,
		Mode:          pr.mode,
		Stream:        pr.stream,
		Cached:        cached,
		Items:         pr.items,
		Coverage:      pr.coverage,
		History:       pr.rawHist,
		System:        pr.system,
		SystemTokens:  p.Prompts.Tokens(pr.system),
		ContextTokens: pr.contextTokens,
		HistoryTokens: p.Compressor.HistoryTokens(pr.hist),
	}, nil
}

// lookup checks the response cache, exact key first and then by query
// similarity within the session. Answers generated in another mode than
// the one q would select are misses.
func (p *Pipeline) lookup(ctx context.Context, q Query) (*Answer, bool) {
	if p.Cache == nil {
		return nil, false
	}
	defer p.Metrics.ObserveStage("cache", time.Now())

	mode := strategy.Select(q.Mode, p.Allocator.Classify(q.Text).Level, q.Deep)
	r, ok := p.Cache.GetResponse(ctx, q.SessionID, q.Text)
	similarity := 1.0
	kind := "exact"
	if !ok || strategy.Mode(r.Mode) != mode {
		if r, similarity, ok = p.Cache.FuzzyResponse(q.SessionID, q.Text); !ok {
			return nil, false
		}
		kind = "fuzzy"
	}
	if strategy.Mode(r.Mode) != mode {
		p.Logger.Debug("pipeline: cached answer has another mode", "cached", r.Mode, "want", mode, "session", q.SessionID)
		return nil, false
	}
	p.Metrics.CacheHit(kind)
	p.Logger.Debug("pipeline: response cache hit", "kind", kind, "similarity", similarity, "session", q.SessionID)
	return &Answer{
		Text:       r.Text,
		Cached:     true,
		Similarity: similarity,
		Mode:       strategy.Mode(r.Mode),
		Level:      complexity.Level(r.Level),
		Tokens:     r.Tokens,
	}, true
}

func (p *Pipeline) prepare(ctx context.Context, q Query) prepared {
	var pr prepared

	hist := p.readHistory(ctx, q.SessionID)
	pr.rawHist = len(hist)

	start := time.Now()
	pr.budget = p.Allocator.Allocate(budget.Request{
		Query:      q.Text,
		HistoryLen: len(hist),
		Window:     p.opts.Window,
		Deep:       q.Deep,
	})
	p.Metrics.ObserveStage("allocate", start)
	p.Logger.Debug("pipeline: budget allocated", "budget", pr.budget.String())

	items := p.retrieve(ctx, q)

	_, span := p.Tracer.Start(ctx, "pipeline.compress")
	start = time.Now()
	pr.items = p.Compressor.CompressContext(items, pr.budget.Context)
	pr.hist = p.Compressor.CompressHistory(hist, pr.budget.History)
	p.Metrics.ObserveStage("compress", start)
	p.Metrics.ContextItems(len(pr.items))
	span.SetAttributes(
		attribute.Int("context.retrieved", len(items)),
		attribute.Int("context.kept", len(pr.items)),
		attribute.Int("history.kept", len(pr.hist)),
	)
	span.End()

	pr.mode = strategy.Select(q.Mode, pr.budget.Level, q.Deep)
	pr.stream = p.Allocator.ShouldStream(pr.budget, q.Stream)

	start = time.Now()
	asm := p.Prompts.Assemble(prompt.Input{
		Profile:       p.Profile,
		Items:         pr.items,
		Level:         pr.budget.Level,
		Directive:     p.Executor.Config(pr.mode).Directive,
		MaxTokens:     pr.budget.System,
		ContextTokens: pr.budget.Context,
	})
	pr.system, pr.contextTokens = asm.System, asm.ContextTokens
	p.Metrics.ObserveStage("prompt", start)

	pr.coverage = retrieval.DetectGaps(q.Text, pr.items)
	if pr.coverage.HasGaps {
		p.Logger.Debug("pipeline: context has gaps", "coverage", pr.coverage.Percent, "missing", pr.coverage.Missing)
	}

	// Quality thresholds are sized to the response reservation.
	pr.quality = budget.EstimateQuality(pr.budget.Level, pr.budget.Response,
		hasCategory(pr.items, knowledge.CategoryProject),
		p.Profile != nil && len(p.Profile.Instructions) > 0)
	return pr
}

func (p *Pipeline) readHistory(ctx context.Context, sessionID string) []history.Entry {
	if p.History == nil || sessionID == "" {
		return nil
	}
	hist, err := p.History.GetHistory(ctx, sessionID, p.opts.HistoryLimit)
	if err != nil {
		p.Logger.Warn("pipeline: reading history failed, continuing without it", "session", sessionID, "error", err)
		return nil
	}
	return hist
}

func (p *Pipeline) retrieve(ctx context.Context, q Query) []knowledge.Item {
	if p.Cache != nil {
		if items, ok := p.Cache.GetContext(q.Scope, q.Text); ok {
			p.Metrics.CacheHit("context")
			return items
		}
	}
	if p.Retriever == nil {
		return nil
	}

	ctx, span := p.Tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()
	start := time.Now()
	items := p.Retriever.Search(ctx, q.Text, p.opts.TopK, retrieval.Filters{Scope: q.Scope})
	p.Metrics.ObserveStage("retrieve", start)
	span.SetAttributes(attribute.Int("items", len(items)))

	// Empty results may come from a failing backend and are not cached.
	if p.Cache != nil && len(items) > 0 {
		p.Cache.PutContext(q.Scope, q.Text, items)
	}
	return items
}

func (p *Pipeline) store(ctx context.Context, q Query, ans *Answer) {
	if p.Cache != nil {
		p.Cache.PutResponse(ctx, q.SessionID, q.Text, cache.Response{
			Query:     q.Text,
			Text:      ans.Text,
			Mode:      string(ans.Mode),
			Level:     string(ans.Level),
			Tokens:    ans.Tokens,
			CreatedAt: time.Now().UTC(),
		})
	}
	if p.History == nil || q.SessionID == "" {
		return
	}
	if err := p.History.AppendMessage(ctx, q.SessionID, history.RoleUser, q.Text); err != nil {
		p.Logger.Warn("pipeline: saving user message failed", "session", q.SessionID, "error", err)
		return
	}
	if err := p.History.AppendMessage(ctx, q.SessionID, history.RoleAssistant, ans.Text); err != nil {
		p.Logger.Warn("pipeline: saving answer failed", "session", q.SessionID, "error", err)
	}
}

func (p *Pipeline) record(sessionID string, ans *Answer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.usage[sessionID]
	if !ok {
		u = &UsageStats{SessionID: sessionID}
		p.usage[sessionID] = u
	}
	u.Requests++
	if ans.Cached {
		u.CacheHits++
		return
	}
	if ans.Extended {
		u.Extensions++
	}
	u.InputTokens += ans.Usage.InputTokens
	u.OutputTokens += ans.Usage.OutputTokens
	u.EstimatedCost = llm.EstimateCost(p.opts.Model, u.InputTokens, u.OutputTokens)
}

// Usage returns the accumulated usage of a session.
func (p *Pipeline) Usage(sessionID string) UsageStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u, ok := p.usage[sessionID]; ok {
		return *u
	}
	return UsageStats{SessionID: sessionID}
}

// ForgetSession drops cached answers and usage for a session.
func (p *Pipeline) ForgetSession(ctx context.Context, sessionID string) int {
	p.mu.Lock()
	delete(p.usage, sessionID)
	p.mu.Unlock()
	if p.Cache == nil {
		return 0
	}
	return p.Cache.InvalidateSession(ctx, sessionID)
}

func hasCategory(items []knowledge.Item, c knowledge.Category) bool {
	for _, it := range items {
		if it.Category == c {
			return true
		}
	}
	return false
}
