package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopsmart/shopsync/internal/schema"
)

// UpsertStore inserts or updates a store and replaces its catalog set.
// Item ids that do not exist are skipped.
func (db *DB) UpsertStore(ctx context.Context, store *schema.Store) error {
	if err := store.Validate(); err != nil {
		return fmt.Errorf("invalid store: %w", err)
	}

	return db.WithTx(ctx, func(tx *DB) error {
		query := `
		INSERT INTO stores (id, name, notes, website_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			notes = excluded.notes,
			website_url = excluded.website_url
		`
		if _, err := tx.q.ExecContext(ctx, query, store.ID, store.Name, store.Notes, store.WebsiteURL); err != nil {
			return fmt.Errorf("failed to upsert store: %w", err)
		}

		if _, err := tx.q.ExecContext(ctx, `DELETE FROM store_items WHERE store_id = ?`, store.ID); err != nil {
			return fmt.Errorf("failed to clear store catalog: %w", err)
		}
		for _, itemID := range store.ItemIDs {
			_, err := tx.q.ExecContext(ctx, `
				INSERT OR IGNORE INTO store_items (store_id, item_id)
				SELECT ?, id FROM items WHERE id = ?`, store.ID, itemID)
			if err != nil {
				return fmt.Errorf("failed to add item %s to store catalog: %w", itemID, err)
			}
		}
		return nil
	})
}

// GetStore retrieves a store with its catalog set.
// Returns schema.ErrNotFound if the store does not exist.
func (db *DB) GetStore(ctx context.Context, id string) (*schema.Store, error) {
	var s schema.Store
	err := db.q.QueryRowContext(ctx,
		`SELECT id, name, notes, website_url FROM stores WHERE id = ?`, id,
	).Scan(&s.ID, &s.Name, &s.Notes, &s.WebsiteURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store %s: %w", id, err)
	}

	ids, err := db.storeItemIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	s.ItemIDs = ids
	return &s, nil
}

// ListStores returns every store ordered by name.
func (db *DB) ListStores(ctx context.Context) ([]*schema.Store, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT id, name, notes, website_url FROM stores ORDER BY name COLLATE NOCASE ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer rows.Close()

	var stores []*schema.Store
	for rows.Next() {
		var s schema.Store
		if err := rows.Scan(&s.ID, &s.Name, &s.Notes, &s.WebsiteURL); err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stores: %w", err)
	}

	for _, s := range stores {
		ids, err := db.storeItemIDs(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		s.ItemIDs = ids
	}
	return stores, nil
}

// DeleteStore removes a store and its catalog set. Lists for the store are
// kept and render with a fallback name. Returns nil if the store doesn't exist.
func (db *DB) DeleteStore(ctx context.Context, id string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM stores WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete store %s: %w", id, err)
	}
	return nil
}

func (db *DB) storeItemIDs(ctx context.Context, storeID string) ([]string, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT item_id FROM store_items WHERE store_id = ? ORDER BY item_id`, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query store catalog: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan store item: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertItem inserts or updates a catalog item.
func (db *DB) UpsertItem(ctx context.Context, item *schema.Item) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid item: %w", err)
	}

	query := `
	INSERT INTO items (id, name, notes, brand, image)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		notes = excluded.notes,
		brand = excluded.brand,
		image = excluded.image
	`
	_, err := db.q.ExecContext(ctx, query, item.ID, item.Name, item.Notes, item.Brand, nullBytes(item.Image))
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

// GetItem retrieves a single item by id.
// Returns schema.ErrNotFound if the item does not exist.
func (db *DB) GetItem(ctx context.Context, id string) (*schema.Item, error) {
	row := db.q.QueryRowContext(ctx,
		`SELECT id, name, notes, brand, image FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// ListItems returns every catalog item ordered by name.
func (db *DB) ListItems(ctx context.Context) ([]*schema.Item, error) {
	return db.queryItems(ctx,
		`SELECT id, name, notes, brand, image FROM items ORDER BY name COLLATE NOCASE ASC, id ASC`)
}

// ItemsForStore returns the items in a store's catalog ordered by name.
func (db *DB) ItemsForStore(ctx context.Context, storeID string) ([]*schema.Item, error) {
	return db.queryItems(ctx, `
		SELECT i.id, i.name, i.notes, i.brand, i.image
		FROM items i
		JOIN store_items si ON si.item_id = i.id
		WHERE si.store_id = ?
		ORDER BY i.name COLLATE NOCASE ASC, i.id ASC`, storeID)
}

// StoresForItem returns the ids of stores whose catalog contains itemID.
func (db *DB) StoresForItem(ctx context.Context, itemID string) ([]string, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT store_id FROM store_items WHERE item_id = ? ORDER BY store_id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to query item stores: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan store id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteItem removes an item and drops it from every store catalog.
// Entries keep their dangling reference. Returns nil if the item doesn't exist.
func (db *DB) DeleteItem(ctx context.Context, id string) error {
	if _, err := db.q.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete item %s: %w", id, err)
	}
	return nil
}

// AssignItem adds itemID to storeID's catalog. Both must exist.
func (db *DB) AssignItem(ctx context.Context, storeID, itemID string) error {
	_, err := db.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO store_items (store_id, item_id) VALUES (?, ?)`, storeID, itemID)
	if err != nil {
		return fmt.Errorf("failed to assign item %s to store %s: %w", itemID, storeID, err)
	}
	return nil
}

// UnassignItem removes itemID from storeID's catalog.
func (db *DB) UnassignItem(ctx context.Context, storeID, itemID string) error {
	_, err := db.q.ExecContext(ctx,
		`DELETE FROM store_items WHERE store_id = ? AND item_id = ?`, storeID, itemID)
	if err != nil {
		return fmt.Errorf("failed to unassign item %s from store %s: %w", itemID, storeID, err)
	}
	return nil
}

func (db *DB) queryItems(ctx context.Context, query string, args ...interface{}) ([]*schema.Item, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var items []*schema.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating items: %w", err)
	}
	return items, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scanner) (*schema.Item, error) {
	var item schema.Item
	var image []byte
	if err := row.Scan(&item.ID, &item.Name, &item.Notes, &item.Brand, &image); err != nil {
		return nil, err
	}
	if len(image) > 0 {
		item.Image = image
	}
	return &item, nil
}
