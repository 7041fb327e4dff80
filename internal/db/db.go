// Package db provides the SQLite store of record for the primary device.
//
// It is the storage collaborator behind the catalog, the frequency ledger and
// the sync coordinator: stores, items, shopping lists, entries and frequency
// records, queried by simple equality predicates.
//
// Architecture:
//   - Database file: <data_dir>/shopsync.db
//   - WAL mode: concurrent readers while the daemon and CLI write
//   - References are plain ids. Only two cascades exist: deleting a list
//     deletes its entries, and deleting a store or item deletes its
//     store_items rows. Frequencies and dangling entry/list references are
//     never touched by a delete.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB wraps the SQLite connection pool. A DB handed out by WithTx runs every
// statement on its transaction instead.
type DB struct {
	conn *sql.DB
	q    querier
	tx   *sql.Tx
	path string
}

// Open creates a new database connection at the specified path.
//
// Pragmas are passed in the DSN so every pooled connection gets WAL,
// a busy timeout and foreign keys, not just the first one.
//
// The caller MUST call Close() when done to ensure proper cleanup.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn, q: conn, path: path}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(wal)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

// RawDB returns the underlying sql.DB connection.
// The sync channel keeps its outbox and context tables in the same file.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// WithTx runs fn in a single transaction. Every method called on the DB
// passed to fn joins that transaction; it must not be kept or closed after
// fn returns. A non-nil error from fn rolls everything back. Calling WithTx
// on a transaction-scoped DB runs fn in the existing transaction.
func (db *DB) WithTx(ctx context.Context, fn func(tx *DB) error) error {
	if db.tx != nil {
		return fn(db)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&DB{conn: db.conn, q: tx, tx: tx, path: db.path}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if db.tx != nil {
		return fmt.Errorf("cannot close a transaction-scoped handle")
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS stores (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		website_url TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		brand TEXT NOT NULL DEFAULT '',
		image BLOB
	);

	-- Store catalogs: which items a store carries
	CREATE TABLE IF NOT EXISTS store_items (
		store_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		PRIMARY KEY (store_id, item_id),
		FOREIGN KEY (store_id) REFERENCES stores(id) ON DELETE CASCADE,
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
	);

	-- store_id may dangle after the store is deleted
	CREATE TABLE IF NOT EXISTS shopping_lists (
		id TEXT PRIMARY KEY,
		store_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- item_id may dangle after the item is deleted
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		list_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 1 CHECK (count >= 1),
		in_cart INTEGER NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (list_id) REFERENCES shopping_lists(id) ON DELETE CASCADE
	);

	-- Outlives lists, stores and items
	CREATE TABLE IF NOT EXISTS frequencies (
		store_id TEXT NOT NULL,
		item_id TEXT NOT NULL,
		count INTEGER NOT NULL DEFAULT 0,
		sort_order INTEGER,
		PRIMARY KEY (store_id, item_id)
	);

	CREATE INDEX IF NOT EXISTS idx_store_items_item ON store_items(item_id);
	CREATE INDEX IF NOT EXISTS idx_lists_store ON shopping_lists(store_id);
	CREATE INDEX IF NOT EXISTS idx_entries_list ON entries(list_id);
	CREATE INDEX IF NOT EXISTS idx_entries_item ON entries(item_id);
	`

	if _, err := db.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Stats holds row counts per table.
type Stats struct {
	Stores      int `json:"stores" yaml:"stores"`
	Items       int `json:"items" yaml:"items"`
	Lists       int `json:"lists" yaml:"lists"`
	Entries     int `json:"entries" yaml:"entries"`
	Frequencies int `json:"frequencies" yaml:"frequencies"`
}

// GetStats returns the number of rows in each table.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"stores", &s.Stores},
		{"items", &s.Items},
		{"shopping_lists", &s.Lists},
		{"entries", &s.Entries},
		{"frequencies", &s.Frequencies},
	}
	for _, c := range counts {
		if err := db.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}
	return &s, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
