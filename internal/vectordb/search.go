package vectordb

import (
	"context"

	"github.com/ziadkadry99/ragbudget/internal/retrieval"
)

// overfetch widens the vector query so scope filtering still leaves topK.
const overfetch = 2

// Searcher adapts a VectorStore to retrieval.Searcher.
type Searcher struct {
	Store VectorStore
}

// Search runs a similarity query and drops results outside the filter's scope.
func (s Searcher) Search(ctx context.Context, query string, topK int, f retrieval.Filters) ([]retrieval.Hit, error) {
	var filter *SearchFilter
	if f.Category != "" {
		c := f.Category
		filter = &SearchFilter{Category: &c}
	}
	n := topK
	if f.Scope.CompanyID != "" || f.Scope.ProjectID != "" {
		n *= overfetch
	}

	results, err := s.Store.Search(ctx, query, n, filter)
	if err != nil {
		return nil, err
	}
	hits := make([]retrieval.Hit, 0, len(results))
	for _, r := range results {
		md := r.Document.Metadata
		if !f.Scope.Allows(md.CompanyID, md.ProjectID) {
			continue
		}
		id := md.SourceID
		if id == "" {
			id = r.Document.ID
		}
		hits = append(hits, retrieval.Hit{
			Content:   r.Document.Content,
			SourceID:  id,
			Category:  md.Category,
			Score:     float64(max(r.Similarity, 0)),
			CreatedAt: md.CreatedAt,
			Metadata:  map[string]string{"title": md.Title, "path": md.Path},
		})
		if len(hits) == topK {
			break
		}
	}
	return hits, nil
}
