package vectordb

import "context"

// VectorStore stores chunks and searches them by embedding similarity.
type VectorStore interface {
	// AddDocuments adds or replaces documents by ID.
	AddDocuments(ctx context.Context, docs []Document) error

	// Search performs a semantic search using the query text.
	Search(ctx context.Context, query string, limit int, filter *SearchFilter) ([]SearchResult, error)

	// GetByPath returns every chunk indexed from path.
	GetByPath(ctx context.Context, path string) ([]Document, error)

	// DeleteByPath removes every chunk indexed from path.
	DeleteByPath(ctx context.Context, path string) error

	Persist(ctx context.Context, dir string) error
	Load(ctx context.Context, dir string) error
	Count() int
}
