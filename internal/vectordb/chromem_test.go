package vectordb

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
)

// mockEmbedder returns deterministic embeddings based on text content.
// Shared characters land in the same positions, so similar texts produce
// similar vectors.
type mockEmbedder struct {
	dims int
}

func newMockEmbedder(dims int) *mockEmbedder {
	return &mockEmbedder{dims: dims}
}

func (m *mockEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		results[i] = m.deterministicVector(text)
	}
	return results, nil
}

func (m *mockEmbedder) Dimensions() int { return m.dims }
func (m *mockEmbedder) Name() string    { return "mock" }

func (m *mockEmbedder) deterministicVector(text string) []float32 {
	vec := make([]float32, m.dims)
	for i, ch := range text {
		vec[(int(ch)+i)%m.dims] += 1.0
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func newStore(t *testing.T, docs ...Document) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(newMockEmbedder(64))
	if err != nil {
		t.Fatalf("NewChromemStore: %v", err)
	}
	if err := store.AddDocuments(context.Background(), docs); err != nil {
		t.Fatalf("AddDocuments: %v", err)
	}
	return store
}

func sampleDocs(now time.Time) []Document {
	return []Document{
		{
			ID:      "onboarding.md#0",
			Content: "Client onboarding requires a signed contract and a kickoff call",
			Metadata: DocumentMetadata{
				SourceID:  "onboarding.md#0",
				Category:  knowledge.CategoryProject,
				CompanyID: "acme",
				ProjectID: "crm",
				Title:     "Onboarding",
				Path:      "onboarding.md",
				CreatedAt: now,
			},
		},
		{
			ID:      "handbook.md#0",
			Content: "The company handbook covers holidays and expense policy",
			Metadata: DocumentMetadata{
				SourceID:  "handbook.md#0",
				Category:  knowledge.CategoryCompany,
				CompanyID: "acme",
				Path:      "handbook.md",
				CreatedAt: now,
			},
		},
		{
			ID:      "other.md#0",
			Content: "Another company's onboarding checklist",
			Metadata: DocumentMetadata{
				SourceID:  "other.md#0",
				Category:  knowledge.CategoryCompany,
				CompanyID: "globex",
				Path:      "other.md",
				CreatedAt: now,
			},
		},
	}
}

func TestChromemStore_AddAndSearch(t *testing.T) {
	store := newStore(t, sampleDocs(time.Now())...)
	if count := store.Count(); count != 3 {
		t.Errorf("Count: got %d, want 3", count)
	}

	results, err := store.Search(context.Background(), "client onboarding contract", 10, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	// Limit is capped to the collection size.
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Similarity < results[i].Similarity {
			t.Error("results not ordered by similarity")
		}
	}
}

func TestChromemStore_SearchEmpty(t *testing.T) {
	store := newStore(t)
	results, err := store.Search(context.Background(), "anything", 5, nil)
	if err != nil || results != nil {
		t.Errorf("got %v, %v; want nil, nil", results, err)
	}
}

func TestChromemStore_SearchWithFilter(t *testing.T) {
	store := newStore(t, sampleDocs(time.Now())...)
	cat := knowledge.CategoryCompany
	results, err := store.Search(context.Background(), "onboarding", 2, &SearchFilter{Category: &cat})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	for _, r := range results {
		if r.Document.Metadata.Category != knowledge.CategoryCompany {
			t.Errorf("category = %s, want company", r.Document.Metadata.Category)
		}
	}
}

func TestChromemStore_GetAndDeleteByPath(t *testing.T) {
	ctx := context.Background()
	store := newStore(t, sampleDocs(time.Now())...)

	docs, err := store.GetByPath(ctx, "handbook.md")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "handbook.md#0" {
		t.Fatalf("GetByPath = %+v", docs)
	}

	if err := store.DeleteByPath(ctx, "handbook.md"); err != nil {
		t.Fatalf("DeleteByPath: %v", err)
	}
	if count := store.Count(); count != 2 {
		t.Errorf("Count after delete: got %d, want 2", count)
	}
}

func TestChromemStore_PersistAndLoad(t *testing.T) {
	ctx := context.Background()
	now := time.Now().Truncate(time.Second)
	store := newStore(t, sampleDocs(now)...)

	dir := t.TempDir()
	if err := store.Persist(ctx, dir); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	store2 := newStore(t)
	if err := store2.Load(ctx, dir); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if count := store2.Count(); count != 3 {
		t.Fatalf("Count after load: got %d, want 3", count)
	}

	docs, err := store2.GetByPath(ctx, "onboarding.md")
	if err != nil || len(docs) != 1 {
		t.Fatalf("GetByPath after load: %v, %v", docs, err)
	}
	md := docs[0].Metadata
	if md.ProjectID != "crm" || md.Title != "Onboarding" || md.Category != knowledge.CategoryProject {
		t.Errorf("metadata not preserved: %+v", md)
	}
	if !md.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", md.CreatedAt, now)
	}
}

func TestChromemStore_LoadMissingIsNoop(t *testing.T) {
	store := newStore(t)
	if err := store.Load(context.Background(), t.TempDir()); err != nil {
		t.Errorf("Load on empty dir: %v", err)
	}
}

func TestSearcher_ScopesResults(t *testing.T) {
	store := newStore(t, sampleDocs(time.Now())...)
	s := Searcher{Store: store}

	hits, err := s.Search(context.Background(), "onboarding", 10, retrieval.Filters{
		Scope: knowledge.Scope{CompanyID: "acme", ProjectID: "crm"},
	})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2 (globex excluded)", len(hits))
	}
	for _, h := range hits {
		if h.SourceID == "other.md#0" {
			t.Error("out-of-scope document returned")
		}
		if h.Score < 0 || h.Score > 1 {
			t.Errorf("score %v outside [0,1]", h.Score)
		}
		if h.Metadata["path"] == "" {
			t.Error("path metadata missing")
		}
	}
}

func TestSearcher_RespectsTopK(t *testing.T) {
	s := Searcher{Store: newStore(t, sampleDocs(time.Now())...)}
	hits, err := s.Search(context.Background(), "onboarding", 1, retrieval.Filters{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}
