// Package budget splits a model context window into per-category token
// allocations sized to the difficulty of the query.
package budget

import (
	"fmt"
	"log/slog"

	"github.com/ziadkadry99/ragbudget/internal/complexity"
)

// Budget is the token allocation for a single request.
type Budget struct {
	System   int `json:"system_tokens"`
	Context  int `json:"context_tokens"`
	History  int `json:"history_tokens"`
	Response int `json:"response_tokens"`
	Buffer   int `json:"buffer_tokens"`

	Level  complexity.Level `json:"complexity_level"`
	Factor float64          `json:"complexity_factor"`

	TotalAllocated int `json:"total_allocated"`
}

// Sum returns the total of all categories.
func (b Budget) Sum() int {
	return b.System + b.Context + b.History + b.Response + b.Buffer
}

func (b Budget) String() string {
	return fmt.Sprintf("%s(%.2f) system=%d context=%d history=%d response=%d buffer=%d total=%d",
		b.Level, b.Factor, b.System, b.Context, b.History, b.Response, b.Buffer, b.TotalAllocated)
}

// Base is one row of the base allocation table.
type Base struct {
	Response int `yaml:"response" koanf:"response"`
	Context  int `yaml:"context" koanf:"context"`
	History  int `yaml:"history" koanf:"history"`
}

// Range is an inclusive clamp.
type Range struct {
	Min int `yaml:"min" koanf:"min"`
	Max int `yaml:"max" koanf:"max"`
}

// Options tunes the allocator.
type Options struct {
	Deep            Base  `yaml:"deep" koanf:"deep"`
	Normal          Base  `yaml:"normal" koanf:"normal"`
	SystemTokens    int   `yaml:"system_tokens" koanf:"system_tokens"`
	BufferTokens    int   `yaml:"buffer_tokens" koanf:"buffer_tokens"`
	Window          int   `yaml:"window" koanf:"window"`
	Response        Range `yaml:"response" koanf:"response"`
	MinContext      int   `yaml:"min_context" koanf:"min_context"`
	MinHistory      int   `yaml:"min_history" koanf:"min_history"`
	StreamThreshold int   `yaml:"stream_threshold" koanf:"stream_threshold"`
}

// DefaultOptions returns the stock allocation tables.
func DefaultOptions() Options {
	return Options{
		Deep:            Base{Response: 10000, Context: 80000, History: 40000},
		Normal:          Base{Response: 7000, Context: 60000, History: 25000},
		SystemTokens:    2000,
		BufferTokens:    1000,
		Window:          120000,
		Response:        Range{Min: 4000, Max: 15000},
		MinContext:      20000,
		MinHistory:      10000,
		StreamThreshold: 2000,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Deep == (Base{}) {
		o.Deep = d.Deep
	}
	if o.Normal == (Base{}) {
		o.Normal = d.Normal
	}
	if o.SystemTokens <= 0 {
		o.SystemTokens = d.SystemTokens
	}
	if o.BufferTokens <= 0 {
		o.BufferTokens = d.BufferTokens
	}
	if o.Window <= 0 {
		o.Window = d.Window
	}
	if o.Response == (Range{}) {
		o.Response = d.Response
	}
	if o.MinContext <= 0 {
		o.MinContext = d.MinContext
	}
	if o.MinHistory <= 0 {
		o.MinHistory = d.MinHistory
	}
	if o.StreamThreshold <= 0 {
		o.StreamThreshold = d.StreamThreshold
	}
	return o
}

// Request is the input to Allocate.
type Request struct {
	Query      string
	HistoryLen int
	// Window is the model context window. Zero means the configured default.
	Window int
	Deep   bool
}

// Allocator turns a query into a Budget.
type Allocator struct {
	classifier *complexity.Classifier
	opts       Options
	logger     *slog.Logger
}

// NewAllocator creates an Allocator. A nil logger uses slog.Default.
func NewAllocator(classifier *complexity.Classifier, opts Options, logger *slog.Logger) *Allocator {
	if classifier == nil {
		classifier = complexity.New(complexity.Options{})
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Allocator{classifier: classifier, opts: opts.withDefaults(), logger: logger}
}

// Options returns the effective allocator options.
func (a *Allocator) Options() Options {
	return a.opts
}

// Classify exposes the underlying classifier.
func (a *Allocator) Classify(text string) complexity.Result {
	return a.classifier.Classify(text)
}

// Allocate computes the budget for req. It never fails: an internal fault
// yields the normal-mode defaults.
func (a *Allocator) Allocate(req Request) (b Budget) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("budget: allocation failed, using defaults", "panic", r)
			b = a.Defaults(req.Window)
		}
	}()

	res := a.classifier.Classify(req.Query)
	base := a.opts.Normal
	if req.Deep {
		base = a.opts.Deep
	}
	return a.allocate(base, res.Level, res.Factor, req.HistoryLen, req.Window)
}

// Defaults returns the normal-mode budget for a medium query with factor 1.
func (a *Allocator) Defaults(window int) Budget {
	return a.allocate(a.opts.Normal, complexity.Medium, 1.0, 0, window)
}

func (a *Allocator) allocate(base Base, level complexity.Level, factor float64, historyLen, window int) Budget {
	if window <= 0 {
		window = a.opts.Window
	}
	o := a.opts

	response := int(float64(base.Response) * factor * 1.2)
	context := int(float64(base.Context) * factor * 1.15)
	history := int(float64(base.History) * factor)

	switch {
	case historyLen > 50:
		history = int(float64(history) * 0.9)
	case historyLen > 20:
		history = int(float64(history) * 0.95)
	case historyLen < 5:
		history = int(float64(history) * 0.7)
	}

	available := window - o.SystemTokens - o.BufferTokens
	if available < 0 {
		available = 0
	}

	response = min(response, o.Response.Max)
	response = max(response, o.Response.Min)

	context = min(context, available)
	context = max(context, o.MinContext)

	history = min(history, available/2)
	history = max(history, o.MinHistory)

	b := Budget{
		System:   o.SystemTokens,
		Context:  context,
		History:  history,
		Response: response,
		Buffer:   o.BufferTokens,
		Level:    level,
		Factor:   factor,
	}
	a.fit(&b, window)
	b.TotalAllocated = b.Sum()
	return b
}

// fit shrinks history, then context, then response toward their floors
// until the budget fits the window.
func (a *Allocator) fit(b *Budget, window int) {
	over := b.Sum() - window
	for _, s := range []struct {
		v     *int
		floor int
	}{
		{&b.History, a.opts.MinHistory},
		{&b.Context, a.opts.MinContext},
		{&b.Response, a.opts.Response.Min},
	} {
		if over <= 0 {
			return
		}
		if slack := *s.v - s.floor; slack > 0 {
			cut := min(slack, over)
			*s.v -= cut
			over -= cut
		}
	}
}

// ShouldStream decides between streaming and a single completion. An
// explicit preference wins.
func (a *Allocator) ShouldStream(b Budget, pref *bool) bool {
	if pref != nil {
		return *pref
	}
	return b.Response > a.opts.StreamThreshold || b.Level.AtLeast(complexity.Complex)
}
