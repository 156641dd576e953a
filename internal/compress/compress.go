// Package compress fits retrieved context and conversation history into
// token budgets by greedy, priority-ordered selection.
package compress

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/history"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/tokens"
)

// DefaultImportanceKeywords mark sentences that survive document compression.
var DefaultImportanceKeywords = []string{
	"importante", "crítico", "esencial", "primero", "obligatorio", "debe",
	"clave", "fundamental", "prioritario", "urgente", "requiere", "necesario",
	"conclusión", "resumen", "resultado", "implicación", "impacto",
	"important", "critical", "essential", "must", "required", "key",
	"mandatory", "urgent", "conclusion", "summary", "result", "implication",
	"impact",
}

// Options tunes an Engine.
type Options struct {
	// DocThreshold is the size above which a context item is compressed
	// to DocTarget before the fit check.
	DocThreshold int `yaml:"doc_threshold" koanf:"doc_threshold"`
	DocTarget    int `yaml:"doc_target" koanf:"doc_target"`
	// FillRatio is the budget usage below which one last item is truncated
	// to fill the remainder.
	FillRatio      float64 `yaml:"fill_ratio" koanf:"fill_ratio"`
	TruncateMargin int     `yaml:"truncate_margin" koanf:"truncate_margin"`
	KeepRecent     int     `yaml:"keep_recent" koanf:"keep_recent"`
	// HistoryMinRemaining is the budget that must be left before an older
	// user message is compressed instead of dropped.
	HistoryMinRemaining int           `yaml:"history_min_remaining" koanf:"history_min_remaining"`
	ImportanceKeywords  []string      `yaml:"importance_keywords" koanf:"importance_keywords"`
	MemoTTL             time.Duration `yaml:"memo_ttl" koanf:"memo_ttl"`
}

// DefaultOptions returns the stock compression settings.
func DefaultOptions() Options {
	return Options{
		DocThreshold:        3000,
		DocTarget:           2500,
		FillRatio:           0.85,
		TruncateMargin:      100,
		KeepRecent:          8,
		HistoryMinRemaining: 500,
		ImportanceKeywords:  DefaultImportanceKeywords,
		MemoTTL:             6 * time.Hour,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DocThreshold <= 0 {
		o.DocThreshold = d.DocThreshold
	}
	if o.DocTarget <= 0 {
		o.DocTarget = d.DocTarget
	}
	if o.FillRatio <= 0 {
		o.FillRatio = d.FillRatio
	}
	if o.TruncateMargin <= 0 {
		o.TruncateMargin = d.TruncateMargin
	}
	if o.KeepRecent <= 0 {
		o.KeepRecent = d.KeepRecent
	}
	if o.HistoryMinRemaining <= 0 {
		o.HistoryMinRemaining = d.HistoryMinRemaining
	}
	if len(o.ImportanceKeywords) == 0 {
		o.ImportanceKeywords = d.ImportanceKeywords
	}
	if o.MemoTTL <= 0 {
		o.MemoTTL = d.MemoTTL
	}
	return o
}

// Engine compresses context and history. It is safe for concurrent use.
type Engine struct {
	counter  tokens.Counter
	memo     *cache.Store[string]
	opts     Options
	keywords []string
}

// New creates an Engine. memo may be nil, in which case a private store
// is created for compressed documents.
func New(counter tokens.Counter, memo *cache.Store[string], opts Options) *Engine {
	opts = opts.withDefaults()
	if memo == nil {
		memo = cache.NewStore(cache.StoreOptions[string]{
			Name:   "compression",
			TTL:    opts.MemoTTL,
			SizeOf: func(s string) int { return len(s) },
		})
	}
	kw := make([]string, len(opts.ImportanceKeywords))
	for i, k := range opts.ImportanceKeywords {
		kw[i] = strings.ToLower(k)
	}
	return &Engine{counter: counter, memo: memo, opts: opts, keywords: kw}
}

// Options returns the effective settings.
func (e *Engine) Options() Options { return e.opts }

// Memo exposes the compressed-document store.
func (e *Engine) Memo() *cache.Store[string] { return e.memo }

// CompressContext selects items in (priority, -score) order until budget is
// spent. The token total of the result never exceeds budget. Input items
// are not modified.
func (e *Engine) CompressContext(items []knowledge.Item, budget int) []knowledge.Item {
	if budget <= 0 || len(items) == 0 {
		return nil
	}
	sorted := append([]knowledge.Item(nil), items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		pi, pj := priorityOf(sorted[i]), priorityOf(sorted[j])
		if pi != pj {
			return pi < pj
		}
		return sorted[i].Score > sorted[j].Score
	})

	var out []knowledge.Item
	total := 0
	for _, it := range sorted {
		n := e.counter.Count(it.Content)
		if n > e.opts.DocThreshold {
			it.Content = e.CompressDocument(it.Content, e.opts.DocTarget)
			n = e.counter.Count(it.Content)
		}

		if total+n <= budget {
			out = append(out, it)
			total += n
			continue
		}
		if float64(total) >= float64(budget)*e.opts.FillRatio {
			continue
		}
		if limit := budget - total - e.opts.TruncateMargin; limit > 0 {
			it.Content = e.counter.Truncate(it.Content, limit)
			if m := e.counter.Count(it.Content); m > 0 && total+m <= budget {
				out = append(out, it)
			}
		}
		break
	}
	return out
}

func priorityOf(it knowledge.Item) int {
	if it.Priority > 0 {
		return it.Priority
	}
	return it.Category.Priority()
}

// CompressDocument shortens text to about target tokens. Sentences holding
// an importance keyword are kept first; remaining sentences are kept in
// order while they fit. Results are memoized by content hash.
func (e *Engine) CompressDocument(text string, target int) string {
	if target <= 0 {
		return ""
	}
	key := cache.Hash(strconv.Itoa(target) + ":" + text)
	if out, ok := e.memo.Get(key); ok {
		return out
	}

	out := e.compressDocument(text, target)
	e.memo.Put(key, out, 0)
	return out
}

func (e *Engine) compressDocument(text string, target int) string {
	if e.counter.Count(text) <= target {
		return text
	}

	var sentences []string
	for _, s := range strings.Split(text, ".") {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}

	keep := make([]bool, len(sentences))
	sizes := make([]int, len(sentences))
	used := 0
	for i, s := range sentences {
		sizes[i] = e.counter.Count(s)
		if e.important(s) {
			keep[i] = true
			used += sizes[i]
		}
	}
	for i := range sentences {
		if used >= target {
			break
		}
		if !keep[i] && used+sizes[i] <= target {
			keep[i] = true
			used += sizes[i]
		}
	}

	kept := make([]string, 0, len(sentences))
	for i, s := range sentences {
		if keep[i] {
			kept = append(kept, s)
		}
	}
	out := strings.Join(kept, ". ")
	if e.counter.Count(out) > target {
		out = e.counter.Truncate(out, target)
	}
	return out
}

func (e *Engine) important(sentence string) bool {
	lower := strings.ToLower(sentence)
	for _, kw := range e.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// CompressHistory keeps the most recent messages verbatim, then adds older
// messages newest-first while they fit. The first older user message that
// does not fit is compressed into the remaining budget if enough is left,
// and the walk stops there. Chronological order is preserved.
func (e *Engine) CompressHistory(entries []history.Entry, budget int) []history.Entry {
	if len(entries) == 0 {
		return nil
	}
	split := max(len(entries)-e.opts.KeepRecent, 0)
	older, recent := entries[:split], entries[split:]

	total := 0
	for _, m := range recent {
		total += e.counter.Count(m.Content)
	}

	var picked []history.Entry // newest first
	if len(older) > 0 && total < budget {
		remaining := budget - total
		for i := len(older) - 1; i >= 0; i-- {
			m := older[i]
			n := e.counter.Count(m.Content)
			if n <= remaining {
				picked = append(picked, m)
				remaining -= n
				continue
			}
			if m.Role == history.RoleUser && remaining > e.opts.HistoryMinRemaining {
				m.Content = e.CompressDocument(m.Content, remaining-e.opts.TruncateMargin)
				picked = append(picked, m)
				break
			}
		}
	}

	out := make([]history.Entry, 0, len(picked)+len(recent))
	for i := len(picked) - 1; i >= 0; i-- {
		out = append(out, picked[i])
	}
	return append(out, recent...)
}

// Tokens sums the token count of item contents.
func (e *Engine) Tokens(items []knowledge.Item) int {
	n := 0
	for _, it := range items {
		n += e.counter.Count(it.Content)
	}
	return n
}

// HistoryTokens sums the token count of history contents.
func (e *Engine) HistoryTokens(entries []history.Entry) int {
	n := 0
	for _, m := range entries {
		n += e.counter.Count(m.Content)
	}
	return n
}
