package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/cache"
	"github.com/ziadkadry99/ragbudget/internal/tokens"
)

// countingEmbedder returns a one-dimension vector holding the text length and
// counts backend calls.
type countingEmbedder struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func (c *countingEmbedder) Dimensions() int { return 1 }
func (c *countingEmbedder) Name() string    { return "counting" }

func newStore() *cache.Store[[]float32] {
	return cache.NewStore(cache.StoreOptions[[]float32]{Name: "embedding", TTL: time.Hour})
}

func TestCachedEmbedderServesRepeatsFromCache(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCached(inner, newStore())
	ctx := context.Background()

	first, err := c.Embed(ctx, []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := c.Embed(ctx, []string{"beta", "alpha", "gamma!"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := inner.calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
	if first[0][0] != 5 || second[0][0] != 4 || second[2][0] != 6 {
		t.Errorf("vectors out of order: %v %v", first, second)
	}
	if c.Name() != "counting" || c.Dimensions() != 1 {
		t.Error("Name/Dimensions not delegated")
	}
}

func TestCachedEmbedderCollapsesConcurrentCalls(t *testing.T) {
	inner := &countingEmbedder{delay: 50 * time.Millisecond}
	c := NewCached(inner, newStore())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Embed(context.Background(), []string{"same text"}); err != nil {
				t.Errorf("Embed: %v", err)
			}
		}()
	}
	wg.Wait()
	if got := inner.calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestCachedEmbedderDoesNotCacheErrors(t *testing.T) {
	inner := &countingEmbedder{err: errors.New("quota")}
	store := newStore()
	c := NewCached(inner, store)
	if _, err := c.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d entries after failure", store.Len())
	}
}

func TestToChromemFunc(t *testing.T) {
	f := ToChromemFunc(&countingEmbedder{})
	v, err := f(context.Background(), "abc")
	if err != nil || len(v) != 1 || v[0] != 3 {
		t.Errorf("got %v, %v", v, err)
	}
}

func TestOllamaEmbedder(t *testing.T) {
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embed" {
			http.NotFound(w, r)
			return
		}
		requests.Add(1)
		var req ollamaEmbedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Truncate || req.Model != "nomic-embed-text" {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		var resp ollamaEmbedResponse
		for _, in := range req.Input {
			resp.Embeddings = append(resp.Embeddings, []float32{float32(len(in)), 1})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder("nomic-embed-text", 2, srv.URL)
	vecs, err := e.Embed(context.Background(), []string{"ab", "abcd"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 2 || vecs[1][0] != 4 {
		t.Errorf("got %v", vecs)
	}
	if requests.Load() != 1 {
		t.Errorf("requests = %d, want one batched request", requests.Load())
	}
	if e.Name() != "ollama/nomic-embed-text" {
		t.Errorf("Name = %q", e.Name())
	}

	texts := make([]string, ollamaBatchSize+1)
	for i := range texts {
		texts[i] = "x"
	}
	requests.Store(0)
	if vecs, err = e.Embed(context.Background(), texts); err != nil || len(vecs) != len(texts) {
		t.Fatalf("Embed: %d vectors, %v", len(vecs), err)
	}
	if requests.Load() != 2 {
		t.Errorf("requests = %d, want 2 batches", requests.Load())
	}
}

func TestOllamaEmbedderRejectsWrongDimensions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{1, 2, 3}}})
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder("nomic-embed-text", 768, srv.URL).Embed(context.Background(), []string{"x"})
	if !errors.Is(err, ErrDimensions) {
		t.Errorf("err = %v, want ErrDimensions", err)
	}
}

func TestOllamaEmbedderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewOllamaEmbedder("missing", 2, srv.URL).Embed(context.Background(), []string{"x"}); err == nil {
		t.Error("expected error for 404")
	}
}

func TestOpenAIEmbedderBatches(t *testing.T) {
	e := NewOpenAIEmbedder(OpenAIOptions{Model: ModelTextEmbedding3Small})

	long := strings.Repeat("word ", 10000)
	batches := e.batches([]string{"short", long})
	if len(batches) != 1 || len(batches[0]) != 2 {
		t.Fatalf("batches = %d, want one batch of two", len(batches))
	}
	if n := tokens.Estimate(batches[0][1]); n > maxInputTokens {
		t.Errorf("long input has %d tokens, want <= %d", n, maxInputTokens)
	}

	// 40 inputs of about 7800 tokens exceed the per-request token limit.
	texts := make([]string, 40)
	for i := range texts {
		texts[i] = strings.Repeat("word ", 6000)
	}
	batches = e.batches(texts)
	total := 0
	for _, b := range batches {
		used := 0
		for _, text := range b {
			used += tokens.Estimate(text)
		}
		if used > maxBatchTokens {
			t.Errorf("batch of %d inputs has %d tokens", len(b), used)
		}
		total += len(b)
	}
	if len(batches) < 2 || total != len(texts) {
		t.Errorf("got %d batches holding %d inputs", len(batches), total)
	}
}

func TestOpenAIEmbedderDimensions(t *testing.T) {
	var gotDims atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input      []string `json:"input"`
			Dimensions int      `json:"dimensions"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotDims.Store(int64(req.Dimensions))
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": make([]float32, req.Dimensions)}
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "text-embedding-3-small"})
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(OpenAIOptions{APIKey: "test", Model: ModelTextEmbedding3Small, BaseURL: srv.URL, Dimensions: 256})
	if e.Dimensions() != 256 {
		t.Fatalf("Dimensions = %d, want 256", e.Dimensions())
	}
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 256 || gotDims.Load() != 256 {
		t.Errorf("got %d vectors of %d, requested %d dimensions", len(vecs), len(vecs[0]), gotDims.Load())
	}

	native := NewOpenAIEmbedder(OpenAIOptions{Model: ModelTextEmbedding3Large, Dimensions: 5000})
	if native.Dimensions() != 3072 {
		t.Errorf("Dimensions = %d, want the native 3072", native.Dimensions())
	}
}
