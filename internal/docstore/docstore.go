// Package docstore keeps indexed chunks in SQLite and serves keyword search
// over them.
package docstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/ragbudget/internal/db"
	"github.com/ziadkadry99/ragbudget/internal/knowledge"
	"github.com/ziadkadry99/ragbudget/internal/retrieval"
	"github.com/ziadkadry99/ragbudget/internal/textsim"
)

const (
	// minTermLen drops stop-word sized terms from keyword queries.
	minTermLen = 3
	// maxTerms bounds the LIKE clauses generated for one query.
	maxTerms = 12
)

// Document is one stored chunk.
type Document struct {
	ID          string
	SourceID    string
	Chunk       int
	Category    knowledge.Category
	CompanyID   string
	ProjectID   string
	Title       string
	Path        string
	Content     string
	ContentHash string
	CreatedAt   time.Time
}

// Store is the SQLite-backed document table.
type Store struct {
	db *db.DB
}

// New returns a Store on an open database.
func New(database *db.DB) *Store {
	return &Store{db: database}
}

// Put inserts documents, replacing any chunk with the same source and index.
func (s *Store) Put(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("docstore: begin put: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents
		   (id, source_id, chunk, category, company_id, project_id, title, path, content, content_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(source_id, chunk) DO UPDATE SET
		   category = excluded.category, company_id = excluded.company_id,
		   project_id = excluded.project_id, title = excluded.title, path = excluded.path,
		   content = excluded.content, content_hash = excluded.content_hash,
		   created_at = excluded.created_at`)
	if err != nil {
		return fmt.Errorf("docstore: prepare put: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		if d.Category == "" {
			d.Category = knowledge.CategoryGeneral
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			d.ID, d.SourceID, d.Chunk, string(d.Category), d.CompanyID, d.ProjectID,
			d.Title, d.Path, d.Content, d.ContentHash, d.CreatedAt,
		); err != nil {
			return fmt.Errorf("docstore: put %s#%d: %w", d.SourceID, d.Chunk, err)
		}
	}
	return tx.Commit()
}

// DeleteByPath removes every chunk indexed from path.
func (s *Store) DeleteByPath(ctx context.Context, path string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return 0, fmt.Errorf("docstore: delete %s: %w", path, err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FileHash returns the content hash recorded for path, if any.
func (s *Store) FileHash(ctx context.Context, path string) (string, bool, error) {
	var h string
	err := s.db.QueryRowContext(ctx,
		`SELECT content_hash FROM documents WHERE path = ? LIMIT 1`, path,
	).Scan(&h)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("docstore: hash for %s: %w", path, err)
	}
	return h, true, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: count: %w", err)
	}
	return n, nil
}

// Terms extracts the distinct keyword terms of a query.
func Terms(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range textsim.Words(query) {
		if len([]rune(w)) < minTermLen || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == maxTerms {
			break
		}
	}
	return out
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches each query term with LIKE and scores a chunk by the
// fraction of terms it contains. It implements retrieval.Searcher.
func (s *Store) Search(ctx context.Context, query string, topK int, f retrieval.Filters) ([]retrieval.Hit, error) {
	terms := Terms(query)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}

	var score strings.Builder
	patterns := make([]any, 0, len(terms))
	for i, t := range terms {
		if i > 0 {
			score.WriteString(" + ")
		}
		score.WriteString(`(CASE WHEN content LIKE ? ESCAPE '\' THEN 1 ELSE 0 END)`)
		patterns = append(patterns, "%"+likeEscaper.Replace(t)+"%")
	}

	// The score expression appears in both SELECT and WHERE, so its
	// patterns are bound twice.
	args := append(append([]any{}, patterns...), patterns...)
	where := []string{"(" + score.String() + ") > 0"}
	if f.Category != "" {
		where = append(where, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Scope.CompanyID != "" {
		where = append(where, "(company_id = '' OR company_id = ?)")
		args = append(args, f.Scope.CompanyID)
	}
	if f.Scope.ProjectID != "" {
		where = append(where, "(project_id = '' OR project_id = ?)")
		args = append(args, f.Scope.ProjectID)
	}
	args = append(args, topK)

	q := `SELECT source_id, chunk, category, title, path, content, created_at, (` + score.String() + `) AS matched
	      FROM documents
	      WHERE ` + strings.Join(where, " AND ") + `
	      ORDER BY matched DESC, created_at DESC, source_id, chunk
	      LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: search: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.Hit
	for rows.Next() {
		var (
			sourceID, category, title, path, content string
			chunk, matched                           int
			createdAt                                time.Time
		)
		if err := rows.Scan(&sourceID, &chunk, &category, &title, &path, &content, &createdAt, &matched); err != nil {
			return nil, fmt.Errorf("docstore: scan: %w", err)
		}
		hits = append(hits, retrieval.Hit{
			Content:   content,
			SourceID:  sourceID,
			Category:  knowledge.Category(category),
			Score:     float64(matched) / float64(len(terms)),
			CreatedAt: createdAt,
			Metadata:  map[string]string{"title": title, "path": path},
		})
	}
	return hits, rows.Err()
}
