package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopsmart/shopsync/internal/schema"
)

// UpsertList inserts or updates a shopping list.
func (db *DB) UpsertList(ctx context.Context, list *schema.ShoppingList) error {
	if err := list.Validate(); err != nil {
		return fmt.Errorf("invalid list: %w", err)
	}

	query := `
	INSERT INTO shopping_lists (id, store_id, created_at)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		store_id = excluded.store_id,
		created_at = excluded.created_at
	`
	if _, err := db.q.ExecContext(ctx, query, list.ID, list.StoreID, formatTime(list.CreatedAt)); err != nil {
		return fmt.Errorf("failed to upsert list: %w", err)
	}
	return nil
}

const listViewColumns = `
	SELECT l.id, l.store_id, l.created_at, s.name
	FROM shopping_lists l
	LEFT JOIN stores s ON s.id = l.store_id
`

// GetList retrieves a list with its store name resolved.
// Returns schema.ErrNotFound if the list does not exist.
func (db *DB) GetList(ctx context.Context, id string) (*schema.ListView, error) {
	row := db.q.QueryRowContext(ctx, listViewColumns+` WHERE l.id = ?`, id)
	v, err := scanListView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get list %s: %w", id, err)
	}
	return v, nil
}

// ListLists returns every list, oldest first.
func (db *DB) ListLists(ctx context.Context) ([]*schema.ListView, error) {
	return db.queryLists(ctx, listViewColumns+` ORDER BY l.created_at ASC, l.id ASC`)
}

// ListsForStore returns the lists that reference storeID, oldest first.
func (db *DB) ListsForStore(ctx context.Context, storeID string) ([]*schema.ListView, error) {
	return db.queryLists(ctx, listViewColumns+` WHERE l.store_id = ? ORDER BY l.created_at ASC, l.id ASC`, storeID)
}

// DeleteList removes a list and, by cascade, its entries. Frequency records
// are not touched. Returns nil if the list doesn't exist.
func (db *DB) DeleteList(ctx context.Context, id string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM shopping_lists WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete list %s: %w", id, err)
	}
	return nil
}

func (db *DB) queryLists(ctx context.Context, query string, args ...interface{}) ([]*schema.ListView, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query lists: %w", err)
	}
	defer rows.Close()

	var lists []*schema.ListView
	for rows.Next() {
		v, err := scanListView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan list: %w", err)
		}
		lists = append(lists, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating lists: %w", err)
	}
	return lists, nil
}

func scanListView(row scanner) (*schema.ListView, error) {
	var v schema.ListView
	var createdAt string
	var storeName sql.NullString
	if err := row.Scan(&v.ID, &v.StoreID, &createdAt, &storeName); err != nil {
		return nil, err
	}
	v.CreatedAt = parseTime(createdAt)
	v.StoreFound = storeName.Valid
	v.StoreName = storeName.String
	return &v, nil
}

// UpsertEntry inserts or updates a list entry.
func (db *DB) UpsertEntry(ctx context.Context, entry *schema.Entry) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid entry: %w", err)
	}

	query := `
	INSERT INTO entries (id, list_id, item_id, count, in_cart, note)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		list_id = excluded.list_id,
		item_id = excluded.item_id,
		count = excluded.count,
		in_cart = excluded.in_cart,
		note = excluded.note
	`
	_, err := db.q.ExecContext(ctx, query,
		entry.ID, entry.ListID, entry.ItemID, entry.Count, boolToInt(entry.InCart), entry.Note)
	if err != nil {
		return fmt.Errorf("failed to upsert entry: %w", err)
	}
	return nil
}

const entryViewColumns = `
	SELECT e.id, e.list_id, e.item_id, e.count, e.in_cart, e.note,
	       i.name, i.notes, i.brand, i.image
	FROM entries e
	LEFT JOIN items i ON i.id = e.item_id
`

// GetEntry retrieves an entry with its item fields resolved.
// Returns schema.ErrNotFound if the entry does not exist.
func (db *DB) GetEntry(ctx context.Context, id string) (*schema.EntryView, error) {
	row := db.q.QueryRowContext(ctx, entryViewColumns+` WHERE e.id = ?`, id)
	v, err := scanEntryView(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry %s: %w", id, err)
	}
	return v, nil
}

// EntriesForList returns the entries of a list ordered by id.
// Display order is the ledger's job.
func (db *DB) EntriesForList(ctx context.Context, listID string) ([]*schema.EntryView, error) {
	rows, err := db.q.QueryContext(ctx, entryViewColumns+` WHERE e.list_id = ? ORDER BY e.id`, listID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []*schema.EntryView
	for rows.Next() {
		v, err := scanEntryView(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// SetEntryInCart sets the in-cart flag of an entry.
// Returns schema.ErrNotFound if the entry does not exist.
func (db *DB) SetEntryInCart(ctx context.Context, id string, inCart bool) error {
	res, err := db.q.ExecContext(ctx, `UPDATE entries SET in_cart = ? WHERE id = ?`, boolToInt(inCart), id)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return schema.ErrNotFound
	}
	return nil
}

// DeleteEntry removes a single entry. Returns nil if it doesn't exist.
func (db *DB) DeleteEntry(ctx context.Context, id string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	return nil
}

func scanEntryView(row scanner) (*schema.EntryView, error) {
	var v schema.EntryView
	var inCart int
	var name, notes, brand sql.NullString
	var image []byte
	err := row.Scan(&v.ID, &v.ListID, &v.ItemID, &v.Count, &inCart, &v.Note,
		&name, &notes, &brand, &image)
	if err != nil {
		return nil, err
	}
	v.InCart = inCart != 0
	v.ItemFound = name.Valid
	v.ItemName = name.String
	v.ItemNotes = notes.String
	v.Brand = brand.String
	if len(image) > 0 {
		v.Image = image
	}
	return &v, nil
}

// GetFrequency returns the frequency record for (storeID, itemID).
// Returns schema.ErrNotFound if none exists.
func (db *DB) GetFrequency(ctx context.Context, storeID, itemID string) (*schema.FrequencyRecord, error) {
	var rec schema.FrequencyRecord
	var order sql.NullInt64
	err := db.q.QueryRowContext(ctx,
		`SELECT store_id, item_id, count, sort_order FROM frequencies WHERE store_id = ? AND item_id = ?`,
		storeID, itemID,
	).Scan(&rec.StoreID, &rec.ItemID, &rec.Count, &order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frequency: %w", err)
	}
	rec.SortOrder = nullIntToPtr(order)
	return &rec, nil
}

// UpsertFrequency inserts or replaces a frequency record.
func (db *DB) UpsertFrequency(ctx context.Context, rec *schema.FrequencyRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("invalid frequency: %w", err)
	}

	query := `
	INSERT INTO frequencies (store_id, item_id, count, sort_order)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(store_id, item_id) DO UPDATE SET
		count = excluded.count,
		sort_order = excluded.sort_order
	`
	var order interface{}
	if rec.SortOrder != nil {
		order = int64(*rec.SortOrder)
	}
	if _, err := db.q.ExecContext(ctx, query, rec.StoreID, rec.ItemID, rec.Count, order); err != nil {
		return fmt.Errorf("failed to upsert frequency: %w", err)
	}
	return nil
}

// ListFrequencies returns every frequency record for a store.
func (db *DB) ListFrequencies(ctx context.Context, storeID string) ([]*schema.FrequencyRecord, error) {
	return db.queryFrequencies(ctx,
		`SELECT store_id, item_id, count, sort_order FROM frequencies WHERE store_id = ? ORDER BY item_id`, storeID)
}

// AllFrequencies returns every frequency record.
func (db *DB) AllFrequencies(ctx context.Context) ([]*schema.FrequencyRecord, error) {
	return db.queryFrequencies(ctx,
		`SELECT store_id, item_id, count, sort_order FROM frequencies ORDER BY store_id, item_id`)
}

func (db *DB) queryFrequencies(ctx context.Context, query string, args ...interface{}) ([]*schema.FrequencyRecord, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query frequencies: %w", err)
	}
	defer rows.Close()

	var recs []*schema.FrequencyRecord
	for rows.Next() {
		var rec schema.FrequencyRecord
		var order sql.NullInt64
		if err := rows.Scan(&rec.StoreID, &rec.ItemID, &rec.Count, &order); err != nil {
			return nil, fmt.Errorf("failed to scan frequency: %w", err)
		}
		rec.SortOrder = nullIntToPtr(order)
		recs = append(recs, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating frequencies: %w", err)
	}
	return recs, nil
}

func nullIntToPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
