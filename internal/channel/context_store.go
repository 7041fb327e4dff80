package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ContextStore durably keeps the last context received from the primary.
// It holds one row; each Save replaces it.
type ContextStore struct {
	conn *sql.DB
}

// NewContextStore creates the context table if needed.
func NewContextStore(ctx context.Context, conn *sql.DB) (*ContextStore, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_context (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		payload BLOB NOT NULL,
		received_at TEXT NOT NULL
	);
	`
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize context store: %w", err)
	}
	return &ContextStore{conn: conn}, nil
}

// Save replaces the stored context.
func (s *ContextStore) Save(ctx context.Context, payload []byte) error {
	query := `
	INSERT INTO sync_context (id, payload, received_at)
	VALUES (1, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		payload = excluded.payload,
		received_at = excluded.received_at
	`
	if _, err := s.conn.ExecContext(ctx, query, payload, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("failed to save context: %w", err)
	}
	return nil
}

// Load returns the stored context, or nil if none was ever saved.
func (s *ContextStore) Load(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.conn.QueryRowContext(ctx, `SELECT payload FROM sync_context WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load context: %w", err)
	}
	return payload, nil
}
