package vectordb

import (
	"time"

	"github.com/ziadkadry99/ragbudget/internal/knowledge"
)

// Document is one indexed chunk.
type Document struct {
	ID       string
	Content  string
	Metadata DocumentMetadata
}

// DocumentMetadata holds the fields stored alongside a chunk.
type DocumentMetadata struct {
	SourceID    string
	Chunk       int
	Category    knowledge.Category
	CompanyID   string
	ProjectID   string
	Title       string
	Path        string
	ContentHash string
	CreatedAt   time.Time
}

// SearchResult pairs a document with its similarity score.
type SearchResult struct {
	Document   Document
	Similarity float32
}

// SearchFilter narrows search results by exact metadata values.
type SearchFilter struct {
	Category *knowledge.Category
	Path     *string
}
