// Package ledger tracks per-store purchase frequency and manual shelf order.
//
// Two orderings come out of the ledger:
//
//   - Rank orders catalog items by how often they were put on a list for the
//     store, most frequent first. It drives catalog browsing and the
//     "add from store" suggestions.
//   - SortEntries orders list entries by the manual sort order (the shelf
//     walk). Entries without a record sort after every ranked entry.
//
// Both are stable and break ties by item name, case-insensitively, so
// repeated renders of the same data are identical.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopsmart/shopsync/internal/schema"
)

// Store persists frequency records. internal/db implements it.
type Store interface {
	// GetFrequency returns the record for (storeID, itemID) or schema.ErrNotFound.
	GetFrequency(ctx context.Context, storeID, itemID string) (*schema.FrequencyRecord, error)
	// UpsertFrequency inserts or replaces a record.
	UpsertFrequency(ctx context.Context, rec *schema.FrequencyRecord) error
	// ListFrequencies returns every record for a store.
	ListFrequencies(ctx context.Context, storeID string) ([]*schema.FrequencyRecord, error)
}

// Ledger computes rankings from frequency records.
type Ledger struct {
	store Store
}

// New creates a Ledger backed by store.
func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// Increment bumps the purchase count for (storeID, itemID), creating the
// record with count 1 on first use. Counts never go down.
func (l *Ledger) Increment(ctx context.Context, storeID, itemID string) error {
	rec, err := l.get(ctx, storeID, itemID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &schema.FrequencyRecord{StoreID: storeID, ItemID: itemID}
	}
	rec.Count++

	if err := l.store.UpsertFrequency(ctx, rec); err != nil {
		return fmt.Errorf("failed to increment frequency: %w", err)
	}
	return nil
}

// SetSortOrder records the manual position of itemID in storeID's shelf
// order. A record with count 0 is created if none exists. The value is stored
// as given; no clamping or gap filling is applied.
func (l *Ledger) SetSortOrder(ctx context.Context, storeID, itemID string, order int) error {
	rec, err := l.get(ctx, storeID, itemID)
	if err != nil {
		return err
	}
	if rec == nil {
		rec = &schema.FrequencyRecord{StoreID: storeID, ItemID: itemID}
	}
	rec.SortOrder = &order

	if err := l.store.UpsertFrequency(ctx, rec); err != nil {
		return fmt.Errorf("failed to set sort order: %w", err)
	}
	return nil
}

// Reorder assigns sort order 0..n-1 to itemIDs in the given order.
func (l *Ledger) Reorder(ctx context.Context, storeID string, itemIDs []string) error {
	for i, itemID := range itemIDs {
		if err := l.SetSortOrder(ctx, storeID, itemID, i); err != nil {
			return err
		}
	}
	return nil
}

// Counts returns the aggregated purchase count per item for a store.
func (l *Ledger) Counts(ctx context.Context, storeID string) (map[string]int, error) {
	recs, err := l.store.ListFrequencies(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frequencies: %w", err)
	}
	counts := make(map[string]int, len(recs))
	for _, rec := range recs {
		counts[rec.ItemID] += rec.Count
	}
	return counts, nil
}

// Orders returns the manual sort order per item for a store. Items without
// a sort order are absent from the map.
func (l *Ledger) Orders(ctx context.Context, storeID string) (map[string]int, error) {
	recs, err := l.store.ListFrequencies(ctx, storeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list frequencies: %w", err)
	}
	orders := make(map[string]int, len(recs))
	for _, rec := range recs {
		if rec.SortOrder != nil {
			orders[rec.ItemID] = *rec.SortOrder
		}
	}
	return orders, nil
}

// Rank returns items ordered by descending purchase count for storeID.
// The input slice is not modified.
func (l *Ledger) Rank(ctx context.Context, storeID string, items []*schema.Item) ([]*schema.Item, error) {
	counts, err := l.Counts(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return RankByCount(items, counts), nil
}

// SortEntries returns entries ordered by ascending manual sort order for
// storeID. The input slice is not modified.
func (l *Ledger) SortEntries(ctx context.Context, storeID string, entries []*schema.EntryView) ([]*schema.EntryView, error) {
	orders, err := l.Orders(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return SortByOrder(entries, orders), nil
}

// RankByCount orders items by descending counts[item.ID], then by name.
func RankByCount(items []*schema.Item, counts map[string]int) []*schema.Item {
	out := make([]*schema.Item, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := counts[out[i].ID], counts[out[j].ID]
		if ci != cj {
			return ci > cj
		}
		return nameLess(out[i].Name, out[j].Name)
	})
	return out
}

// SortByOrder orders entries by ascending orders[entry.ItemID]; entries
// whose item has no order sort last. Ties break by display name.
func SortByOrder(entries []*schema.EntryView, orders map[string]int) []*schema.EntryView {
	out := make([]*schema.EntryView, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		oi, hasI := orders[out[i].ItemID]
		oj, hasJ := orders[out[j].ItemID]
		if hasI != hasJ {
			// Unset sorts after every ranked entry, whatever its value.
			return hasI
		}
		if hasI && oi != oj {
			return oi < oj
		}
		return nameLess(out[i].DisplayName(), out[j].DisplayName())
	})
	return out
}

func nameLess(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

func (l *Ledger) get(ctx context.Context, storeID, itemID string) (*schema.FrequencyRecord, error) {
	rec, err := l.store.GetFrequency(ctx, storeID, itemID)
	if err == nil {
		return rec, nil
	}
	if errors.Is(err, schema.ErrNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to load frequency %s/%s: %w", storeID, itemID, err)
}
