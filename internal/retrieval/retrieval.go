// Package retrieval runs hybrid vector and keyword search, then filters,
// reranks and deduplicates the merged candidates.
package retrieval

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/clock"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/textsim"
)

// Hit is a single backend search result.
type Hit struct {
	Content   string
	SourceID  string
	Category  knowledge.Category
	Score     float64
	CreatedAt time.Time
	Metadata  map[string]string
}

// Filters narrow a search.
type Filters struct {
	Scope    knowledge.Scope
	Category knowledge.Category
	// MaxAge drops items older than this. Zero disables the cutoff unless
	// RecentOnly is set.
	MaxAge     time.Duration
	RecentOnly bool
}

// Searcher is a search backend.
type Searcher interface {
	Search(ctx context.Context, query string, topK int, f Filters) ([]Hit, error)
}

// Weights of the rerank formula.
type Weights struct {
	Base         float64 `yaml:"base" koanf:"base"`
	Overlap      float64 `yaml:"overlap" koanf:"overlap"`
	Completeness float64 `yaml:"completeness" koanf:"completeness"`
	Source       float64 `yaml:"source" koanf:"source"`
}

// Options tunes an Engine.
type Options struct {
	TopK                int           `yaml:"top_k" koanf:"top_k"`
	CandidateMultiplier int           `yaml:"candidate_multiplier" koanf:"candidate_multiplier"`
	MinScore            float64       `yaml:"min_score" koanf:"min_score"`
	HybridBoost         float64       `yaml:"hybrid_boost" koanf:"hybrid_boost"`
	RecentAge           time.Duration `yaml:"recent_age" koanf:"recent_age"`
	DedupThreshold      float64       `yaml:"dedup_threshold" koanf:"dedup_threshold"`
	DedupWords          int           `yaml:"dedup_words" koanf:"dedup_words"`
	// CompleteChars is the content length at which completeness saturates.
	CompleteChars int     `yaml:"complete_chars" koanf:"complete_chars"`
	Weights       Weights `yaml:"weights" koanf:"weights"`
}

// DefaultOptions returns the stock retrieval settings.
func DefaultOptions() Options {
	return Options{
		TopK:                10,
		CandidateMultiplier: 2,
		MinScore:            0.3,
		HybridBoost:         0.15,
		RecentAge:           30 * 24 * time.Hour,
		DedupThreshold:      0.85,
		DedupWords:          100,
		CompleteChars:       1000,
		Weights:             Weights{Base: 0.6, Overlap: 0.3, Completeness: 0.15, Source: 0.15},
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TopK <= 0 {
		o.TopK = d.TopK
	}
	if o.CandidateMultiplier <= 0 {
		o.CandidateMultiplier = d.CandidateMultiplier
	}
	if o.RecentAge <= 0 {
		o.RecentAge = d.RecentAge
	}
	if o.DedupThreshold <= 0 {
		o.DedupThreshold = d.DedupThreshold
	}
	if o.DedupWords <= 0 {
		o.DedupWords = d.DedupWords
	}
	if o.CompleteChars <= 0 {
		o.CompleteChars = d.CompleteChars
	}
	if o.Weights == (Weights{}) {
		o.Weights = d.Weights
	}
	return o
}

// Engine combines a vector and a keyword backend. Either may be nil.
type Engine struct {
	vector  Searcher
	keyword Searcher
	opts    Options
	clock   clock.Clock
	logger  *slog.Logger
}

// New creates an Engine.
func New(vector, keyword Searcher, opts Options, clk clock.Clock, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		vector:  vector,
		keyword: keyword,
		opts:    opts.withDefaults(),
		clock:   clk,
		logger:  logger,
	}
}

// Options returns the effective settings.
func (e *Engine) Options() Options { return e.opts }

// Search returns up to topK reranked, deduplicated items. Backend failures
// are logged and yield fewer (possibly zero) items, never an error.
func (e *Engine) Search(ctx context.Context, query string, topK int, f Filters) []knowledge.Item {
	if topK <= 0 {
		topK = e.opts.TopK
	}
	vec, kw := e.fetch(ctx, query, topK*e.opts.CandidateMultiplier, f)

	items := e.merge(vec, kw)
	items = e.filter(items, f)
	e.rerank(query, items)
	sortItems(items)
	items = Dedup(items, e.opts.DedupThreshold, e.opts.DedupWords)

	if len(items) > topK {
		items = items[:topK]
	}
	return items
}

func (e *Engine) fetch(ctx context.Context, query string, n int, f Filters) (vec, kw []Hit) {
	g, gctx := errgroup.WithContext(ctx)
	run := func(name string, s Searcher, out *[]Hit) {
		if s == nil {
			return
		}
		g.Go(func() error {
			hits, err := s.Search(gctx, query, n, f)
			if err != nil {
				// Degrade to empty rather than cancelling the other backend.
				e.logger.Warn("retrieval: backend failed", "backend", name, "error", err)
				return nil
			}
			*out = hits
			return nil
		})
	}
	run("vector", e.vector, &vec)
	run("keyword", e.keyword, &kw)
	_ = g.Wait()
	return vec, kw
}

func sourceKey(h Hit) string {
	if h.SourceID != "" {
		return h.SourceID
	}
	return cache.Hash(h.Content)
}

// bothBackends marks a merged key that already received the hybrid boost.
const bothBackends = -1

// merge unions both result sets by source id. Items found by both backends
// keep the higher score plus the hybrid boost once, capped at 1.
func (e *Engine) merge(vec, kw []Hit) []knowledge.Item {
	index := make(map[string]int, len(vec)+len(kw))
	seenIn := make(map[string]int, len(vec)+len(kw))
	var out []knowledge.Item

	add := func(hits []Hit, backend int) {
		for _, h := range hits {
			key := sourceKey(h)
			if i, ok := index[key]; ok {
				switch seenIn[key] {
				case backend, bothBackends:
					out[i].Score = max(out[i].Score, clamp01(h.Score))
				default:
					out[i].Score = clamp01(max(out[i].Score, h.Score) + e.opts.HybridBoost)
					seenIn[key] = bothBackends
				}
				continue
			}
			index[key] = len(out)
			seenIn[key] = backend
			out = append(out, toItem(h, key))
		}
	}
	add(vec, 1)
	add(kw, 2)
	return out
}

func toItem(h Hit, key string) knowledge.Item {
	cat := h.Category
	if !cat.Valid() {
		cat = knowledge.CategoryGeneral
	}
	return knowledge.Item{
		Content:   h.Content,
		SourceID:  key,
		Category:  cat,
		Score:     clamp01(h.Score),
		Priority:  cat.Priority(),
		CreatedAt: h.CreatedAt,
		Metadata:  h.Metadata,
	}
}

func (e *Engine) filter(items []knowledge.Item, f Filters) []knowledge.Item {
	maxAge := f.MaxAge
	if maxAge <= 0 && f.RecentOnly {
		maxAge = e.opts.RecentAge
	}
	var cutoff time.Time
	if maxAge > 0 {
		cutoff = e.clock.Now().Add(-maxAge)
	}

	out := items[:0]
	for _, it := range items {
		if it.Score < e.opts.MinScore {
			continue
		}
		if f.Category != "" && it.Category != f.Category {
			continue
		}
		if !cutoff.IsZero() && !it.CreatedAt.IsZero() && it.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, it)
	}
	return out
}

func (e *Engine) rerank(query string, items []knowledge.Item) {
	w := e.opts.Weights
	qset := textsim.WordSet(query, 0)
	for i := range items {
		it := &items[i]
		overlap := textsim.Overlap(qset, textsim.WordSet(it.Content, 0))
		completeness := min(float64(len(it.Content))/float64(e.opts.CompleteChars), 1)
		it.Score = clamp01(it.Score*w.Base +
			overlap*w.Overlap +
			completeness*w.Completeness +
			it.Category.SourceWeight()*w.Source)
	}
}

// Dedup drops items whose leading-word Jaccard similarity to an already
// kept item exceeds threshold. Earlier items win. Applying Dedup to its own
// output returns it unchanged.
func Dedup(items []knowledge.Item, threshold float64, words int) []knowledge.Item {
	if len(items) < 2 {
		return items
	}
	var kept []knowledge.Item
	var sets []map[string]struct{}
	for _, it := range items {
		set := textsim.WordSet(it.Content, words)
		dup := false
		for _, s := range sets {
			if textsim.Jaccard(set, s) > threshold {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, it)
		sets = append(sets, set)
	}
	return kept
}

func sortItems(items []knowledge.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].SourceID < items[j].SourceID
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
