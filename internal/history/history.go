// Package history persists conversation messages per session.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ziadkadry99/ragbudget/internal/db"
)

// ErrSessionNotFound is returned when a session has no record.
var ErrSessionNotFound = errors.New("history: session not found")

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Entry is one message of a conversation.
type Entry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session summarizes a stored conversation.
type Session struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Messages  int       `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store reads and appends conversation history.
type Store interface {
	GetHistory(ctx context.Context, sessionID string, limit int) ([]Entry, error)
	AppendMessage(ctx context.Context, sessionID string, role Role, content string) error
}

// SQLStore keeps history in SQLite.
type SQLStore struct {
	db  *db.DB
	now func() time.Time
}

// NewSQLStore creates a history store on an open database.
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database, now: func() time.Time { return time.Now().UTC() }}
}

// CreateSession creates a new, empty session and returns its id.
func (s *SQLStore) CreateSession(ctx context.Context, label string) (*Session, error) {
	now := s.now()
	sess := Session{ID: uuid.New().String(), Label: label, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, label, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Label, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return &sess, nil
}

// AppendMessage adds a message to a session, creating the session on first use.
func (s *SQLStore) AppendMessage(ctx context.Context, sessionID string, role Role, content string) error {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("history: invalid role %q", role)
	}
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_sessions (id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET updated_at = excluded.updated_at`,
		sessionID, now, now,
	); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_messages (id, session_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), sessionID, string(role), content, now,
	); err != nil {
		return fmt.Errorf("adding message: %w", err)
	}
	return tx.Commit()
}

// GetHistory returns the most recent limit messages of a session, oldest
// first. A non-positive limit returns the whole conversation.
func (s *SQLStore) GetHistory(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM (
		   SELECT role, content, created_at, rowid AS seq FROM chat_messages
		   WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var role string
		if err := rows.Scan(&role, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		e.Role = Role(role)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Sessions lists sessions, most recently active first.
func (s *SQLStore) Sessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT s.id, s.label, s.created_at, s.updated_at, COUNT(m.id)
		 FROM chat_sessions s LEFT JOIN chat_messages m ON m.session_id = s.id
		 GROUP BY s.id ORDER BY s.updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Label, &sess.CreatedAt, &sess.UpdatedAt, &sess.Messages); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Clear deletes a session and its messages.
func (s *SQLStore) Clear(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning clear: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSessionNotFound
	}
	return tx.Commit()
}

// Count returns the number of messages stored for a session.
func (s *SQLStore) Count(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_messages WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("counting messages: %w", err)
	}
	return n, nil
}
