// Package knowledge defines retrievable context items, their categories
// and the scopes that control their visibility.
package knowledge

import (
	"fmt"
	"time"
)

// Category classifies where a context item came from.
type Category string

const (
	CategoryProject Category = "project"
	CategoryCompany Category = "company"
	CategoryGeneral Category = "general"
)

// categoryPriority maps categories to compression priority; 1 is kept first.
var categoryPriority = map[Category]int{
	CategoryProject: 1,
	CategoryCompany: 3,
	CategoryGeneral: 5,
}

// sourceWeight is the rerank weight of each category.
var sourceWeight = map[Category]float64{
	CategoryProject: 1.0,
	CategoryCompany: 0.7,
	CategoryGeneral: 0.4,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryPriority[c]
	return ok
}

// Priority returns the compression priority of c; unknown categories sort last.
func (c Category) Priority() int {
	if p, ok := categoryPriority[c]; ok {
		return p
	}
	return 99
}

// SourceWeight returns the rerank weight of c in [0,1].
func (c Category) SourceWeight() float64 {
	return sourceWeight[c]
}

// ParseCategory converts a string into a Category. Empty means general.
func ParseCategory(s string) (Category, error) {
	if s == "" {
		return CategoryGeneral, nil
	}
	c := Category(s)
	if !c.Valid() {
		return "", fmt.Errorf("knowledge: unknown category %q", s)
	}
	return c, nil
}

// Item is a piece of retrieved context.
type Item struct {
	Content   string            `json:"content"`
	SourceID  string            `json:"source_id"`
	Category  Category          `json:"category"`
	Score     float64           `json:"score"`
	Priority  int               `json:"priority"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewItem validates and builds an Item. Priority is derived from the category.
func NewItem(content, sourceID string, category Category, score float64, createdAt time.Time) (Item, error) {
	if !category.Valid() {
		return Item{}, fmt.Errorf("knowledge: unknown category %q", category)
	}
	if score < 0 || score > 1 {
		return Item{}, fmt.Errorf("knowledge: score %.3f outside [0,1]", score)
	}
	return Item{
		Content:   content,
		SourceID:  sourceID,
		Category:  category,
		Score:     score,
		Priority:  category.Priority(),
		CreatedAt: createdAt,
	}, nil
}

// Title returns the item's title metadata, falling back to the source id.
func (it Item) Title() string {
	if t := it.Metadata["title"]; t != "" {
		return t
	}
	return it.SourceID
}

// Scope narrows knowledge to a company and project.
type Scope struct {
	CompanyID string `json:"company_id,omitempty"`
	ProjectID string `json:"project_id,omitempty"`
}

// Allows reports whether a document owned by company and project is visible
// in s. Unowned documents are visible everywhere; an empty scope sees all.
func (s Scope) Allows(company, project string) bool {
	if s.CompanyID != "" && company != "" && company != s.CompanyID {
		return false
	}
	if s.ProjectID != "" && project != "" && project != s.ProjectID {
		return false
	}
	return true
}
