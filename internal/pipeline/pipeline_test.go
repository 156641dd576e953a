package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/budget"
	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/clock"
	"github.com/ziadkadry99/ragbudget/internal/compress"
	"github.com/ziadkadry99/ragbudget/internal/history"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/llm"
	"github.com/ziadkadry99/ragbudget/internal/llm/llmtest"
	"github.com/ziadkadry99/ragbudget/internal/metrics"
	"github.com/ziadkadry99/ragbudget/internal/profile"
	"github.com/ziadkadry99/ragbudget/internal/prompt"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
	"github.com/ziadkadry99/ragbudget/internal/strategy"
	"github.com/ziadkadry99/ragbudget/internal/tokens"
)

type fakeRetriever struct {
	mu      sync.Mutex
	items   []knowledge.Item
	calls   int
	filters []retrieval.Filters
}

func (f *fakeRetriever) Search(_ context.Context, _ string, topK int, flt retrieval.Filters) []knowledge.Item {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.filters = append(f.filters, flt)
	if len(f.items) > topK {
		return append([]knowledge.Item(nil), f.items[:topK]...)
	}
	return append([]knowledge.Item(nil), f.items...)
}

type memHistory struct {
	mu       sync.Mutex
	sessions map[string][]history.Entry
	readErr  error
}

func newMemHistory() *memHistory {
	return &memHistory{sessions: make(map[string][]history.Entry)}
}

func (m *memHistory) GetHistory(_ context.Context, sessionID string, limit int) ([]history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.readErr != nil {
		return nil, m.readErr
	}
	h := m.sessions[sessionID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	return append([]history.Entry(nil), h...), nil
}

func (m *memHistory) AppendMessage(_ context.Context, sessionID string, role history.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = append(m.sessions[sessionID], history.Entry{Role: role, Content: content})
	return nil
}

func (m *memHistory) len(sessionID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions[sessionID])
}

type harness struct {
	p         *Pipeline
	provider  *llmtest.Provider
	retriever *fakeRetriever
	history   *memHistory
}

func testModes() map[strategy.Mode]strategy.ModeConfig {
	return map[strategy.Mode]strategy.ModeConfig{
		strategy.ModeQuick:    {MaxTokens: 2000, Temperature: 1, Directive: "QUICK DIRECTIVE"},
		strategy.ModeMedium:   {MaxTokens: 4000, Temperature: 1, Directive: "MEDIUM DIRECTIVE"},
		strategy.ModeAdvanced: {MaxTokens: 8000, Temperature: 1, Directive: "ADVANCED DIRECTIVE"},
	}
}

func newHarness(t *testing.T, items []knowledge.Item, replies ...llmtest.Reply) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	counter := tokens.Estimator{}
	provider := llmtest.New(replies...)
	ret := &fakeRetriever{items: items}
	hist := newMemHistory()

	p := New(Deps{
		Allocator:  budget.NewAllocator(nil, budget.Options{}, logger),
		Retriever:  ret,
		Compressor: compress.New(counter, nil, compress.Options{}),
		Cache:      cache.NewLayer(cache.Options{Fuzzy: true}, clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)), nil, logger),
		History:    hist,
		Prompts:    prompt.NewBuilder(counter, ""),
		Executor:   strategy.NewExecutor(provider, "gpt-4o", testModes(), logger),
		Profile:    &profile.Profile{Company: profile.Company{Name: "Acme"}},
		Metrics:    metrics.New(),
		Logger:     logger,
	}, Options{Model: "gpt-4o"})
	return &harness{p: p, provider: provider, retriever: ret, history: hist}
}

func projectItems() []knowledge.Item {
	return []knowledge.Item{
		{Content: "Refunds are processed within 14 days.", SourceID: "refunds.md#0",
			Category: knowledge.CategoryProject, Score: 0.9, Priority: 1},
		{Content: "The company was founded in 1999.", SourceID: "about.md#0",
			Category: knowledge.CategoryCompany, Score: 0.6, Priority: 3},
	}
}

func collect(out *strings.Builder) strategy.EmitFunc {
	return func(d string) error {
		out.WriteString(d)
		return nil
	}
}

func TestAskGeneratesAndCaches(t *testing.T) {
	h := newHarness(t, projectItems(), llmtest.Text("Refunds take 14 days."))
	ctx := context.Background()
	q := Query{Text: "what is the refund policy", SessionID: "s1", Mode: strategy.ModeQuick}

	var out strings.Builder
	ans, err := h.p.Ask(ctx, q, collect(&out))
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Cached || ans.Text != "Refunds take 14 days." || out.String() != ans.Text {
		t.Errorf("answer = %+v, emitted %q", ans, out.String())
	}
	if ans.Mode != strategy.ModeQuick || ans.Items != 2 {
		t.Errorf("mode = %s items = %d", ans.Mode, ans.Items)
	}
	if len(ans.Sources) != 2 || ans.Sources[0] != "refunds.md#0" {
		t.Errorf("sources = %v", ans.Sources)
	}
	if !ans.Streamed {
		t.Error("budgets above the stream threshold should stream")
	}
	if h.history.len("s1") != 2 {
		t.Errorf("history has %d messages, want 2", h.history.len("s1"))
	}

	call := h.provider.Call(0)
	system := call.Messages[0].Content
	for _, want := range []string{"Company: Acme", "refunds.md#0", "QUICK DIRECTIVE"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if last := call.Messages[len(call.Messages)-1]; last.Role != llm.RoleUser || last.Content != q.Text {
		t.Errorf("last message = %+v", last)
	}
	if call.MaxTokens != 2000 {
		t.Errorf("max tokens = %d, want the quick limit 2000", call.MaxTokens)
	}

	out.Reset()
	again, err := h.p.Ask(ctx, q, collect(&out))
	if err != nil {
		t.Fatalf("second Ask: %v", err)
	}
	if !again.Cached || again.Text != ans.Text || out.String() != ans.Text {
		t.Errorf("second answer = %+v", again)
	}
	if h.provider.CallCount() != 1 {
		t.Errorf("provider calls = %d, want 1", h.provider.CallCount())
	}
}

func TestAskFuzzyCacheHit(t *testing.T) {
	h := newHarness(t, nil, llmtest.Text("answer"))
	ctx := context.Background()

	if _, err := h.p.Ask(ctx, Query{Text: "what is the refund policy", SessionID: "s1", Mode: strategy.ModeQuick}, nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	ans, err := h.p.Ask(ctx, Query{Text: "what is the refund policy?", SessionID: "s1", Mode: strategy.ModeQuick}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ans.Cached || ans.Similarity < 0.85 || ans.Similarity >= 1 {
		t.Errorf("answer = %+v, want fuzzy hit", ans)
	}

	other, err := h.p.Ask(ctx, Query{Text: "what is the refund policy?", SessionID: "s2", Mode: strategy.ModeQuick}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if other.Cached {
		t.Error("fuzzy hits must stay within a session")
	}
}

func TestAskEmptyRetrievalStillAnswers(t *testing.T) {
	h := newHarness(t, nil, llmtest.Text("general answer"))

	ans, err := h.p.Ask(context.Background(), Query{Text: "¿Cómo optimizar nuestra estrategia de ventas?"}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Items != 0 || ans.Text != "general answer" {
		t.Errorf("answer = %+v", ans)
	}
	if ans.Budget.Response < 4000 || ans.Budget.Response > 15000 {
		t.Errorf("response budget = %d", ans.Budget.Response)
	}
	if strings.Contains(h.provider.Call(0).Messages[0].Content, "Context:") {
		t.Error("no context section expected")
	}
}

func TestAskReusesRetrievedContext(t *testing.T) {
	h := newHarness(t, projectItems(), llmtest.Text("a"))
	ctx := context.Background()
	scope := knowledge.Scope{CompanyID: "acme", ProjectID: "crm"}

	for _, session := range []string{"s1", "s2"} {
		if _, err := h.p.Ask(ctx, Query{Text: "refund policy", SessionID: session, Scope: scope, Mode: strategy.ModeQuick}, nil); err != nil {
			t.Fatalf("Ask: %v", err)
		}
	}
	if h.retriever.calls != 1 {
		t.Errorf("retriever calls = %d, want 1", h.retriever.calls)
	}
	if h.retriever.filters[0].Scope != scope {
		t.Errorf("filters = %+v", h.retriever.filters[0])
	}
	if h.provider.CallCount() != 2 {
		t.Errorf("provider calls = %d, want one per session", h.provider.CallCount())
	}
}

func TestAskGenerationFailure(t *testing.T) {
	boom := errors.New("provider unavailable")
	h := newHarness(t, projectItems(), llmtest.Reply{Err: boom})
	q := Query{Text: "refund policy", SessionID: "s1", Mode: strategy.ModeQuick}

	_, err := h.p.Ask(context.Background(), q, nil)
	if !errors.Is(err, ErrGeneration) || !errors.Is(err, boom) {
		t.Fatalf("error = %v, want ErrGeneration wrapping the provider error", err)
	}
	var gerr *strategy.GenerationError
	if !errors.As(err, &gerr) {
		t.Error("expected *strategy.GenerationError in the chain")
	}
	if h.history.len("s1") != 0 {
		t.Error("failed answers must not be saved")
	}
	if _, ok := h.p.Cache.GetResponse(context.Background(), "s1", q.Text); ok {
		t.Error("failed answers must not be cached")
	}
}

func TestAskEmitErrorIsReturned(t *testing.T) {
	stop := errors.New("client disconnected")
	h := newHarness(t, nil, llmtest.Text("partial"))

	_, err := h.p.Ask(context.Background(), Query{Text: "refund policy", Mode: strategy.ModeQuick},
		func(string) error { return stop })
	if !errors.Is(err, stop) || errors.Is(err, ErrGeneration) {
		t.Fatalf("error = %v, want the consumer error", err)
	}
}

func TestAskHistoryReadFailureDegrades(t *testing.T) {
	h := newHarness(t, nil, llmtest.Text("fine"))
	h.history.readErr = errors.New("database locked")

	ans, err := h.p.Ask(context.Background(), Query{Text: "refund policy", SessionID: "s1", Mode: strategy.ModeQuick}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Text != "fine" {
		t.Errorf("answer = %+v", ans)
	}
}

func TestAskIncludesHistory(t *testing.T) {
	h := newHarness(t, nil, llmtest.Text("first"), llmtest.Text("second"))
	ctx := context.Background()

	if _, err := h.p.Ask(ctx, Query{Text: "my name is Sam", SessionID: "s1", Mode: strategy.ModeQuick}, nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if _, err := h.p.Ask(ctx, Query{Text: "what did I tell you", SessionID: "s1", Mode: strategy.ModeQuick}, nil); err != nil {
		t.Fatalf("Ask: %v", err)
	}

	msgs := h.provider.Call(1).Messages
	want := []llm.Message{
		{Role: llm.RoleUser, Content: "my name is Sam"},
		{Role: llm.RoleAssistant, Content: "first"},
		{Role: llm.RoleUser, Content: "what did I tell you"},
	}
	got := msgs[1:]
	if len(got) != len(want) {
		t.Fatalf("messages = %+v", msgs)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestAskDeepSelectsAdvanced(t *testing.T) {
	h := newHarness(t, nil, llmtest.Text("deep answer"))
	noStream := false

	ans, err := h.p.Ask(context.Background(), Query{Text: "hello", Deep: true, Stream: &noStream}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Mode != strategy.ModeAdvanced || ans.Streamed {
		t.Errorf("mode = %s streamed = %v", ans.Mode, ans.Streamed)
	}
	if h.provider.Streams != 0 {
		t.Error("explicit no-stream should use a single completion")
	}
	if !strings.Contains(h.provider.Call(0).Messages[0].Content, "ADVANCED DIRECTIVE") {
		t.Error("advanced directive missing from system prompt")
	}
}

func TestAskEmptyQuery(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.p.Ask(context.Background(), Query{Text: "  "}, nil); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("error = %v, want ErrEmptyQuery", err)
	}
	if _, err := h.p.Plan(context.Background(), Query{}); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("error = %v, want ErrEmptyQuery", err)
	}
}

func TestPlanDoesNotGenerate(t *testing.T) {
	h := newHarness(t, projectItems(), llmtest.Text("unused"))

	plan, err := h.p.Plan(context.Background(), Query{Text: "refund policy", SessionID: "s1", Mode: strategy.ModeMedium})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if h.provider.CallCount() != 0 {
		t.Errorf("provider calls = %d, want 0", h.provider.CallCount())
	}
	if plan.Mode != strategy.ModeMedium || plan.Cached || len(plan.Items) != 2 {
		t.Errorf("plan = %+v", plan)
	}
	if plan.ContextTokens != tokens.Estimate(prompt.Context(plan.Items)) {
		t.Errorf("context tokens = %d, want the rendered context %d", plan.ContextTokens, tokens.Estimate(prompt.Context(plan.Items)))
	}
	if plan.SystemTokens == 0 || !strings.Contains(plan.System, "MEDIUM DIRECTIVE") {
		t.Errorf("system = %q (%d tokens)", plan.System, plan.SystemTokens)
	}
	if plan.Quality.Score <= 0 {
		t.Errorf("quality = %+v", plan.Quality)
	}
	want := budget.EstimateQuality(plan.Budget.Level, plan.Budget.Response, true, false)
	if plan.Quality.Score != want.Score || plan.Quality.Level != want.Level {
		t.Errorf("quality = %+v, want the estimate for the response reservation %+v", plan.Quality, want)
	}
}

func TestPlanKeepsEveryCompressedItemInPrompt(t *testing.T) {
	var items []knowledge.Item
	for i := range 6 {
		items = append(items, knowledge.Item{
			Content:  fmt.Sprintf("doc%d %s", i, strings.TrimSpace(strings.Repeat("filler ", 599))),
			SourceID: fmt.Sprintf("doc%d.md#0", i),
			Category: knowledge.CategoryProject,
			Score:    0.9 - float64(i)*0.05,
			Priority: 1,
		})
	}
	h := newHarness(t, items, llmtest.Text("unused"))

	plan, err := h.p.Plan(context.Background(), Query{Text: "summarize the docs", Mode: strategy.ModeAdvanced})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Items) != 6 {
		t.Fatalf("compressed items = %d, want 6", len(plan.Items))
	}
	var missing []string
	for _, it := range plan.Items {
		if !strings.Contains(plan.System, it.Content) {
			missing = append(missing, it.SourceID)
		}
	}
	if len(missing) > 0 {
		t.Errorf("items missing from the system prompt: %v", missing)
	}
	if plan.ContextTokens <= h.p.Compressor.Tokens(plan.Items) {
		t.Errorf("context tokens = %d, want at least the item tokens %d", plan.ContextTokens, h.p.Compressor.Tokens(plan.Items))
	}
	if plan.SystemTokens > plan.Budget.System+plan.Budget.Context {
		t.Errorf("system prompt %d tokens exceeds system plus context reservations", plan.SystemTokens)
	}
}

func TestPlanReportsCoverage(t *testing.T) {
	h := newHarness(t, projectItems(), llmtest.Text("unused"))
	ctx := context.Background()

	plan, err := h.p.Plan(ctx, Query{Text: "how are refunds processed", Mode: strategy.ModeQuick})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Coverage.HasGaps || plan.Coverage.Percent < 70 {
		t.Errorf("coverage = %+v, want no gaps", plan.Coverage)
	}

	plan, err = h.p.Plan(ctx, Query{Text: "quarterly revenue forecast", Mode: strategy.ModeQuick})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if !plan.Coverage.HasGaps || len(plan.Coverage.Missing) != 3 {
		t.Errorf("coverage = %+v, want three missing keywords", plan.Coverage)
	}
}

func TestAskCachedAnswerRequiresSameMode(t *testing.T) {
	h := newHarness(t, nil, llmtest.Text("short answer"), llmtest.Text("long answer"))
	ctx := context.Background()
	text := "what is the refund policy"

	first, err := h.p.Ask(ctx, Query{Text: text, SessionID: "s1"}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if first.Mode == strategy.ModeAdvanced {
		t.Fatalf("a plain short query should not select advanced")
	}

	deep, err := h.p.Ask(ctx, Query{Text: text, SessionID: "s1", Deep: true}, nil)
	if err != nil {
		t.Fatalf("deep Ask: %v", err)
	}
	if deep.Cached || deep.Mode != strategy.ModeAdvanced || deep.Text != "long answer" {
		t.Errorf("deep answer = %+v, want a fresh advanced answer", deep)
	}
	if h.provider.CallCount() != 2 {
		t.Errorf("provider calls = %d, want 2", h.provider.CallCount())
	}

	again, err := h.p.Ask(ctx, Query{Text: text, SessionID: "s1", Deep: true}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !again.Cached || again.Text != "long answer" {
		t.Errorf("repeated deep answer = %+v, want cached", again)
	}
}

func TestAskAnswerCarriesCoverage(t *testing.T) {
	h := newHarness(t, projectItems(), llmtest.Text("Refunds take 14 days."))
	ans, err := h.p.Ask(context.Background(), Query{Text: "how are refunds processed", Mode: strategy.ModeQuick}, nil)
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if ans.Coverage == nil || ans.Coverage.HasGaps {
		t.Errorf("coverage = %+v", ans.Coverage)
	}
}

func TestUsageAccumulates(t *testing.T) {
	h := newHarness(t, nil, llmtest.Reply{Deltas: []string{"answer"}, InputTokens: 1000, OutputTokens: 500})
	ctx := context.Background()

	for _, text := range []string{"first question", "second question", "first question"} {
		if _, err := h.p.Ask(ctx, Query{Text: text, SessionID: "s1", Mode: strategy.ModeQuick}, nil); err != nil {
			t.Fatalf("Ask: %v", err)
		}
	}
	u := h.p.Usage("s1")
	if u.Requests != 3 || u.CacheHits != 1 {
		t.Errorf("usage = %+v", u)
	}
	if u.InputTokens != 2000 || u.OutputTokens != 1000 {
		t.Errorf("tokens = %d/%d", u.InputTokens, u.OutputTokens)
	}
	want := llm.EstimateCost("gpt-4o", 2000, 1000)
	if u.EstimatedCost != want || want == 0 {
		t.Errorf("cost = %v, want %v", u.EstimatedCost, want)
	}

	if n := h.p.ForgetSession(ctx, "s1"); n != 2 {
		t.Errorf("ForgetSession removed %d entries, want 2", n)
	}
	if u := h.p.Usage("s1"); u.Requests != 0 {
		t.Errorf("usage after forget = %+v", u)
	}
}

func TestAskConcurrent(t *testing.T) {
	h := newHarness(t, projectItems(), llmtest.Text("ok"))
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := []string{"a", "b", "c", "d"}[i%4]
			if _, err := h.p.Ask(context.Background(), Query{Text: "refund policy", SessionID: session, Mode: strategy.ModeQuick}, nil); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Ask: %v", err)
	}
}
