// Package sqlite provides a SQLite-backed ledger store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/lanternworks/relay/pkg/ledger"
)

// ErrPathRequired indicates the store was constructed without a database path.
var ErrPathRequired = errors.New("sqlite ledger requires a database path")

const schema = `
CREATE TABLE IF NOT EXISTS stream_usage (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL DEFAULT '',
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	chunks INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stream_usage_user_created
	ON stream_usage (user_id, created_at DESC);
`

// Store implements ledger.Store on a local SQLite database.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and bootstraps the schema.
// The path can be a file path or ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Record persists one usage entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_usage (
			id, conversation_id, message_id, user_id,
			input_tokens, output_tokens, total_tokens,
			duration_ms, chunks, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ConversationID,
		entry.MessageID,
		entry.UserID,
		entry.InputTokens,
		entry.OutputTokens,
		entry.TotalTokens,
		entry.DurationMs,
		entry.Chunks,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record ledger entry: %w", err)
	}

	return nil
}

// Summary aggregates usage, scoped to userID when non-empty.
func (s *Store) Summary(ctx context.Context, userID string) (ledger.Summary, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(input_tokens), 0),
			COALESCE(SUM(output_tokens), 0),
			COALESCE(SUM(total_tokens), 0)
		FROM stream_usage`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}

	var summary ledger.Summary
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.Streams,
		&summary.InputTokens,
		&summary.OutputTokens,
		&summary.TotalTokens,
	)
	if err != nil {
		return ledger.Summary{}, fmt.Errorf("failed to summarize ledger: %w", err)
	}

	return summary, nil
}

// ListRecent returns the newest entries first, scoped to userID when
// non-empty. A non-positive limit defaults to 50.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT
			id, conversation_id, message_id, user_id,
			input_tokens, output_tokens, total_tokens,
			duration_ms, chunks, created_at
		FROM stream_usage`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var entry ledger.Entry
		if err := rows.Scan(
			&entry.ID,
			&entry.ConversationID,
			&entry.MessageID,
			&entry.UserID,
			&entry.InputTokens,
			&entry.OutputTokens,
			&entry.TotalTokens,
			&entry.DurationMs,
			&entry.Chunks,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate ledger entries: %w", err)
	}

	return entries, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
