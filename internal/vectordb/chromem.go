package vectordb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/ziadkadry99/ragbudget/internal/embeddings"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
)

const (
	collectionName = "knowledge"
	exportFile     = "chromem.gob.gz"
)

// ChromemStore implements VectorStore using chromem-go.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedFunc  chromem.EmbeddingFunc
}

// NewChromemStore creates a new in-memory ChromemStore.
func NewChromemStore(embedder embeddings.Embedder) (*ChromemStore, error) {
	db := chromem.NewDB()
	ef := embeddings.ToChromemFunc(embedder)

	col, err := db.GetOrCreateCollection(collectionName, nil, ef)
	if err != nil {
		return nil, fmt.Errorf("vectordb: create collection: %w", err)
	}
	return &ChromemStore{db: db, collection: col, embedFunc: ef}, nil
}

func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	chromDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		chromDocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: metadataToMap(doc.Metadata),
		}
	}
	if err := s.collection.AddDocuments(ctx, chromDocs, 1); err != nil {
		return fmt.Errorf("vectordb: add documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, query string, limit int, filter *SearchFilter) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}
	// chromem-go requires nResults <= collection size.
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	limit = min(limit, count)

	results, err := s.collection.Query(ctx, query, limit, buildWhereClause(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("vectordb: query: %w", err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			Document: Document{
				ID:       r.ID,
				Content:  r.Content,
				Metadata: mapToMetadata(r.Metadata),
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

func (s *ChromemStore) GetByPath(ctx context.Context, path string) ([]Document, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}

	// The path doubles as query text; the where clause does the selecting.
	results, err := s.collection.Query(ctx, path, count, map[string]string{"path": path}, nil)
	if err != nil {
		return nil, fmt.Errorf("vectordb: query by path: %w", err)
	}
	docs := make([]Document, len(results))
	for i, r := range results {
		docs[i] = Document{ID: r.ID, Content: r.Content, Metadata: mapToMetadata(r.Metadata)}
	}
	return docs, nil
}

func (s *ChromemStore) DeleteByPath(ctx context.Context, path string) error {
	return s.collection.Delete(ctx, map[string]string{"path": path}, nil)
}

func (s *ChromemStore) Persist(_ context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("vectordb: create dir: %w", err)
	}
	return s.db.ExportToFile(filepath.Join(dir, exportFile), true, "")
}

// Load restores a persisted store. A missing export is not an error.
func (s *ChromemStore) Load(_ context.Context, dir string) error {
	path := filepath.Join(dir, exportFile)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := s.db.ImportFromFile(path, ""); err != nil {
		return fmt.Errorf("vectordb: import: %w", err)
	}

	// Re-acquire collection reference after import.
	col := s.db.GetCollection(collectionName, s.embedFunc)
	if col == nil {
		return fmt.Errorf("vectordb: collection %q not found after import", collectionName)
	}
	s.collection = col
	return nil
}

func (s *ChromemStore) Count() int {
	return s.collection.Count()
}

func metadataToMap(m DocumentMetadata) map[string]string {
	md := map[string]string{
		"source_id":    m.SourceID,
		"chunk":        strconv.Itoa(m.Chunk),
		"category":     string(m.Category),
		"company_id":   m.CompanyID,
		"project_id":   m.ProjectID,
		"title":        m.Title,
		"path":         m.Path,
		"content_hash": m.ContentHash,
	}
	if !m.CreatedAt.IsZero() {
		md["created_at"] = m.CreatedAt.Format(time.RFC3339)
	}
	return md
}

func mapToMetadata(m map[string]string) DocumentMetadata {
	chunk, _ := strconv.Atoi(m["chunk"])
	createdAt, _ := time.Parse(time.RFC3339, m["created_at"])
	return DocumentMetadata{
		SourceID:    m["source_id"],
		Chunk:       chunk,
		Category:    knowledge.Category(m["category"]),
		CompanyID:   m["company_id"],
		ProjectID:   m["project_id"],
		Title:       m["title"],
		Path:        m["path"],
		ContentHash: m["content_hash"],
		CreatedAt:   createdAt,
	}
}

func buildWhereClause(filter *SearchFilter) map[string]string {
	if filter == nil {
		return nil
	}
	where := make(map[string]string)
	if filter.Category != nil {
		where["category"] = string(*filter.Category)
	}
	if filter.Path != nil {
		where["path"] = *filter.Path
	}
	if len(where) == 0 {
		return nil
	}
	return where
}
