package channel

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// QueuedItem is one payload waiting in the outbox.
type QueuedItem struct {
	Seq       int64
	Payload   []byte
	CreatedAt time.Time
}

// Queue is a durable, order-preserving outbox backed by SQLite.
// Sequence numbers only grow, so delivery order is enqueue order even across
// restarts.
type Queue struct {
	conn *sql.DB
}

// NewQueue creates the outbox table if needed and returns a Queue over it.
func NewQueue(ctx context.Context, conn *sql.DB) (*Queue, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_outbox (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		payload BLOB NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("failed to initialize outbox: %w", err)
	}
	return &Queue{conn: conn}, nil
}

// Enqueue appends payload and returns its sequence number.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (int64, error) {
	res, err := q.conn.ExecContext(ctx,
		`INSERT INTO sync_outbox (payload, created_at) VALUES (?, ?)`,
		payload, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox sequence: %w", err)
	}
	return seq, nil
}

// Peek returns up to limit items from the head of the queue, oldest first.
// A negative limit returns every item.
func (q *Queue) Peek(ctx context.Context, limit int) ([]QueuedItem, error) {
	rows, err := q.conn.QueryContext(ctx,
		`SELECT seq, payload, created_at FROM sync_outbox ORDER BY seq ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read outbox: %w", err)
	}
	defer rows.Close()

	var items []QueuedItem
	for rows.Next() {
		var it QueuedItem
		var createdAt string
		if err := rows.Scan(&it.Seq, &it.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox item: %w", err)
		}
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox: %w", err)
	}
	return items, nil
}

// Ack removes a delivered item. Acking an unknown sequence is a no-op.
func (q *Queue) Ack(ctx context.Context, seq int64) error {
	if _, err := q.conn.ExecContext(ctx, `DELETE FROM sync_outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("failed to ack outbox item %d: %w", seq, err)
	}
	return nil
}

// Len returns the number of undelivered items.
func (q *Queue) Len(ctx context.Context) (int, error) {
	var n int
	if err := q.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count outbox: %w", err)
	}
	return n, nil
}
