package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/clock"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/textsim"
)

// Response is a cached generated answer.
type Response struct {
	Query     string    `json:"query" cbor:"query"`
	Text      string    `json:"text" cbor:"text"`
	Mode      string    `json:"mode" cbor:"mode"`
	Level     string    `json:"level" cbor:"level"`
	Tokens    int       `json:"tokens" cbor:"tokens"`
	CreatedAt time.Time `json:"created_at" cbor:"created_at"`
}

// Options configures a Layer.
type Options struct {
	ContextTTL     time.Duration `yaml:"context_ttl" koanf:"context_ttl"`
	EmbeddingTTL   time.Duration `yaml:"embedding_ttl" koanf:"embedding_ttl"`
	Shards         int           `yaml:"shards" koanf:"shards"`
	FuzzyThreshold float64       `yaml:"fuzzy_threshold" koanf:"fuzzy_threshold"`
	// Fuzzy enables the similarity fallback on response misses.
	Fuzzy bool `yaml:"fuzzy" koanf:"fuzzy"`
}

// DefaultOptions returns the stock cache settings.
func DefaultOptions() Options {
	return Options{
		ContextTTL:     time.Hour,
		EmbeddingTTL:   24 * time.Hour,
		Shards:         DefaultShards,
		FuzzyThreshold: 0.85,
		Fuzzy:          true,
	}
}

// ResponseTTL is twice the context TTL: answers outlive the context they
// were built from only while the session is likely to repeat itself.
func (o Options) ResponseTTL() time.Duration {
	return 2 * o.ContextTTL
}

// Layer groups the three caches and the optional shared tier.
type Layer struct {
	Context   *Store[[]knowledge.Item]
	Response  *Store[Response]
	Embedding *Store[[]float32]

	opts   Options
	tier   Tier
	logger *slog.Logger
}

// NewLayer builds the in-process caches. tier may be nil.
func NewLayer(opts Options, c clock.Clock, tier Tier, logger *slog.Logger) *Layer {
	d := DefaultOptions()
	if opts.ContextTTL <= 0 {
		opts.ContextTTL = d.ContextTTL
	}
	if opts.EmbeddingTTL <= 0 {
		opts.EmbeddingTTL = d.EmbeddingTTL
	}
	if opts.FuzzyThreshold <= 0 {
		opts.FuzzyThreshold = d.FuzzyThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Layer{
		Context: NewStore(StoreOptions[[]knowledge.Item]{
			Name: "context", TTL: opts.ContextTTL, Shards: opts.Shards, Clock: c,
			SizeOf: func(items []knowledge.Item) int {
				n := 0
				for _, it := range items {
					n += len(it.Content) + len(it.SourceID) + 64
				}
				return n
			},
		}),
		Response: NewStore(StoreOptions[Response]{
			Name: "response", TTL: opts.ResponseTTL(), Shards: opts.Shards, Clock: c,
			SizeOf: func(r Response) int { return len(r.Query) + len(r.Text) + 64 },
		}),
		Embedding: NewStore(StoreOptions[[]float32]{
			Name: "embedding", TTL: opts.EmbeddingTTL, Shards: opts.Shards, Clock: c,
			SizeOf: func(v []float32) int { return 4 * len(v) },
		}),
		opts:   opts,
		tier:   tier,
		logger: logger,
	}
}

// Options returns the effective settings.
func (l *Layer) Options() Options { return l.opts }

// GetContext returns cached retrieval results for scope and query.
func (l *Layer) GetContext(scope knowledge.Scope, query string) ([]knowledge.Item, bool) {
	items, ok := l.Context.Get(ContextKey(scope.CompanyID, scope.ProjectID, query))
	if !ok {
		return nil, false
	}
	return append([]knowledge.Item(nil), items...), true
}

// PutContext caches retrieval results for scope and query.
func (l *Layer) PutContext(scope knowledge.Scope, query string, items []knowledge.Item) {
	cp := append([]knowledge.Item(nil), items...)
	l.Context.Put(ContextKey(scope.CompanyID, scope.ProjectID, query), cp, 0)
}

// GetResponse looks up an answer in memory and then in the shared tier.
// Shared-tier hits are promoted to memory. Tier failures count as misses.
func (l *Layer) GetResponse(ctx context.Context, sessionID, query string) (Response, bool) {
	key := ResponseKey(sessionID, query)
	if r, ok := l.Response.Get(key); ok {
		return r, true
	}
	if l.tier == nil {
		return Response{}, false
	}
	data, ok, err := l.tier.Get(ctx, sessionID, key)
	if err != nil {
		l.logger.Warn("cache: shared tier read failed", "error", err)
		return Response{}, false
	}
	if !ok {
		return Response{}, false
	}
	r, err := DecodeResponse(data)
	if err != nil {
		l.logger.Warn("cache: discarding undecodable shared entry", "error", err)
		return Response{}, false
	}
	l.Response.PutTagged(key, sessionID, r, 0)
	return r, true
}

// PutResponse stores an answer in memory and, when configured, in the
// shared tier.
func (l *Layer) PutResponse(ctx context.Context, sessionID, query string, r Response) {
	if r.Query == "" {
		r.Query = query
	}
	key := ResponseKey(sessionID, query)
	l.Response.PutTagged(key, sessionID, r, 0)
	if l.tier == nil {
		return
	}
	data, err := EncodeResponse(r)
	if err != nil {
		l.logger.Warn("cache: encoding response", "error", err)
		return
	}
	if err := l.tier.Set(ctx, sessionID, key, data, l.opts.ResponseTTL()); err != nil {
		l.logger.Warn("cache: shared tier write failed", "error", err)
	}
}

// FuzzyResponse returns the session's cached answer whose query is most
// similar to query, provided the similarity reaches the threshold.
func (l *Layer) FuzzyResponse(sessionID, query string) (Response, float64, bool) {
	if !l.opts.Fuzzy {
		return Response{}, 0, false
	}
	var best Response
	var bestScore float64
	l.Response.Range(func(e Entry[Response]) bool {
		if e.Tag != sessionID {
			return true
		}
		if s := textsim.Dice(query, e.Payload.Query); s > bestScore {
			best, bestScore = e.Payload, s
		}
		return true
	})
	if bestScore < l.opts.FuzzyThreshold {
		return Response{}, bestScore, false
	}
	return best, bestScore, true
}

// InvalidateSession drops every cached answer for a session.
func (l *Layer) InvalidateSession(ctx context.Context, sessionID string) int {
	n := l.Response.DeleteTag(sessionID)
	if l.tier != nil {
		m, err := l.tier.DeleteSession(ctx, sessionID)
		if err != nil {
			l.logger.Warn("cache: shared tier invalidation failed", "session", sessionID, "error", err)
		}
		n += m
	}
	return n
}

// Cleanup sweeps expired entries from all in-process caches.
func (l *Layer) Cleanup() int {
	return l.Context.Cleanup() + l.Response.Cleanup() + l.Embedding.Cleanup()
}

// Clear empties all in-process caches.
func (l *Layer) Clear() int {
	return l.Context.Clear() + l.Response.Clear() + l.Embedding.Clear()
}

// LayerStats aggregates the per-cache statistics.
type LayerStats struct {
	Context   Stats `json:"context"`
	Response  Stats `json:"response"`
	Embedding Stats `json:"embedding"`
	Total     Stats `json:"total"`
}

// Stats returns a snapshot of every cache.
func (l *Layer) Stats() LayerStats {
	s := LayerStats{
		Context:   l.Context.Stats(),
		Response:  l.Response.Stats(),
		Embedding: l.Embedding.Stats(),
	}
	s.Total = Stats{Name: "total"}.Merge(s.Context).Merge(s.Response).Merge(s.Embedding)
	return s
}
