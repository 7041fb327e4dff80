package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/ledger"
	"github.com/shopsmart/shopsync/internal/schema"
)

// BuildList commits the list builder for a store. An empty selection is
// rejected with schema.ErrInvalid and changes nothing.
//
// With no current list, a new one is created holding one entry per selection
// and each item's frequency is incremented.
//
// With a current list, its not-in-cart entries are replaced by the
// selections. Items already in the cart are left alone and not re-added.
// Only items that were not on the list before count toward frequency, so
// saving the same list twice never double-counts. The list timestamp is
// refreshed.
//
// Either way the whole build is one transaction.
func (s *Service) BuildList(ctx context.Context, storeID string, selections []Selection) (*schema.ShoppingList, error) {
	if len(selections) == 0 {
		return nil, fmt.Errorf("%w: a list needs at least one item", schema.ErrInvalid)
	}
	for _, sel := range selections {
		if sel.ItemID == "" {
			return nil, fmt.Errorf("%w: selection without item", schema.ErrInvalid)
		}
	}
	if _, err := s.db.GetStore(ctx, storeID); err != nil {
		return nil, fmt.Errorf("store %s: %w", storeID, err)
	}

	current, err := s.ListForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return s.createList(ctx, storeID, selections)
	}
	return s.updateList(ctx, &current.ShoppingList, selections)
}

func (s *Service) createList(ctx context.Context, storeID string, selections []Selection) (*schema.ShoppingList, error) {
	list := &schema.ShoppingList{ID: schema.NewID(), StoreID: storeID, CreatedAt: s.now()}

	err := s.db.WithTx(ctx, func(tx *db.DB) error {
		if err := tx.UpsertList(ctx, list); err != nil {
			return err
		}
		freq := ledger.New(tx)
		seen := make(map[string]bool, len(selections))
		for _, sel := range selections {
			if err := insertEntry(ctx, tx, list.ID, sel); err != nil {
				return err
			}
			if seen[sel.ItemID] {
				continue
			}
			seen[sel.ItemID] = true
			if err := freq.Increment(ctx, storeID, sel.ItemID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Created list %s for store %s (%d entries)", list.ID, storeID, len(selections))
	s.publish(KindList, ActionCreated, list.ID)
	return list, nil
}

func (s *Service) updateList(ctx context.Context, list *schema.ShoppingList, selections []Selection) (*schema.ShoppingList, error) {
	updated := *list
	updated.CreatedAt = s.now()
	added := 0

	err := s.db.WithTx(ctx, func(tx *db.DB) error {
		entries, err := tx.EntriesForList(ctx, list.ID)
		if err != nil {
			return err
		}

		previously := make(map[string]bool, len(entries))
		inCart := make(map[string]bool)
		for _, e := range entries {
			previously[e.ItemID] = true
			if e.InCart {
				inCart[e.ItemID] = true
				continue
			}
			if err := tx.DeleteEntry(ctx, e.ID); err != nil {
				return err
			}
		}

		freq := ledger.New(tx)
		for _, sel := range selections {
			if inCart[sel.ItemID] {
				continue
			}
			if err := insertEntry(ctx, tx, list.ID, sel); err != nil {
				return err
			}
			added++
			if previously[sel.ItemID] {
				continue
			}
			previously[sel.ItemID] = true
			if err := freq.Increment(ctx, list.StoreID, sel.ItemID); err != nil {
				return err
			}
		}

		return tx.UpsertList(ctx, &updated)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Printf("Updated list %s for store %s (%d entries re-added)", list.ID, list.StoreID, added)
	s.publish(KindList, ActionUpdated, list.ID)
	return &updated, nil
}

func insertEntry(ctx context.Context, tx *db.DB, listID string, sel Selection) error {
	count := sel.Count
	if count < 1 {
		count = 1
	}
	return tx.UpsertEntry(ctx, &schema.Entry{
		ID:     schema.NewID(),
		ListID: listID,
		ItemID: sel.ItemID,
		Count:  count,
		Note:   sel.Note,
	})
}

// Preselection returns the not-in-cart entries of the store's current list
// keyed by item id, so a reopened builder starts with them selected.
// Returns an empty map when the store has no list.
func (s *Service) Preselection(ctx context.Context, storeID string) (map[string]Selection, error) {
	out := make(map[string]Selection)
	list, err := s.ListForStore(ctx, storeID)
	if err != nil || list == nil {
		return out, err
	}

	entries, err := s.db.EntriesForList(ctx, list.ID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.InCart {
			continue
		}
		out[e.ItemID] = Selection{ItemID: e.ItemID, Count: e.Count, Note: e.Note}
	}
	return out, nil
}

// Candidates returns the store's catalog items that are not on the list,
// most frequently bought first.
func (s *Service) Candidates(ctx context.Context, listID string) ([]*schema.Item, error) {
	list, err := s.db.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	onList, err := itemsOnList(ctx, s.db, listID)
	if err != nil {
		return nil, err
	}

	items, err := s.db.ItemsForStore(ctx, list.StoreID)
	if err != nil {
		return nil, err
	}
	var out []*schema.Item
	for _, it := range items {
		if !onList[it.ID] {
			out = append(out, it)
		}
	}
	return s.ledger.Rank(ctx, list.StoreID, out)
}

// AddFromStore adds each item with count 1 and increments its frequency.
// Items already on the list are skipped. All additions commit together.
func (s *Service) AddFromStore(ctx context.Context, listID string, itemIDs []string) (int, error) {
	list, err := s.db.GetList(ctx, listID)
	if err != nil {
		return 0, err
	}

	added := 0
	err = s.db.WithTx(ctx, func(tx *db.DB) error {
		onList, err := itemsOnList(ctx, tx, listID)
		if err != nil {
			return err
		}
		freq := ledger.New(tx)
		for _, itemID := range itemIDs {
			if onList[itemID] {
				continue
			}
			if err := insertEntry(ctx, tx, listID, Selection{ItemID: itemID, Count: 1}); err != nil {
				return err
			}
			onList[itemID] = true
			added++
			if err := freq.Increment(ctx, list.StoreID, itemID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if added > 0 {
		s.publish(KindEntry, ActionCreated, listID)
	}
	return added, nil
}

// AddEntry adds a single entry. Frequency is incremented only when the item
// was not already on the list.
func (s *Service) AddEntry(ctx context.Context, listID string, sel Selection) (*schema.Entry, error) {
	list, err := s.db.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}

	count := sel.Count
	if count < 1 {
		count = 1
	}
	entry := &schema.Entry{ID: schema.NewID(), ListID: listID, ItemID: sel.ItemID, Count: count, Note: sel.Note}

	err = s.db.WithTx(ctx, func(tx *db.DB) error {
		onList, err := itemsOnList(ctx, tx, listID)
		if err != nil {
			return err
		}
		if err := tx.UpsertEntry(ctx, entry); err != nil {
			return err
		}
		if onList[sel.ItemID] {
			return nil
		}
		return ledger.New(tx).Increment(ctx, list.StoreID, sel.ItemID)
	})
	if err != nil {
		return nil, err
	}
	s.publish(KindEntry, ActionCreated, entry.ID)
	return entry, nil
}

// UpdateEntry changes an entry's count and note.
func (s *Service) UpdateEntry(ctx context.Context, entryID string, count int, note string) error {
	v, err := s.db.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	entry := v.Entry
	entry.Count = count
	entry.Note = note
	if err := s.db.UpsertEntry(ctx, &entry); err != nil {
		return err
	}
	s.publish(KindEntry, ActionUpdated, entryID)
	return nil
}

// DeleteEntry removes a single entry.
func (s *Service) DeleteEntry(ctx context.Context, entryID string) error {
	if err := s.db.DeleteEntry(ctx, entryID); err != nil {
		return err
	}
	s.publish(KindEntry, ActionDeleted, entryID)
	return nil
}

// SetInCart sets an entry's in-cart flag and reports whether it changed.
// Setting the flag it already has publishes nothing. Returns
// schema.ErrNotFound for an unknown entry.
func (s *Service) SetInCart(ctx context.Context, entryID string, inCart bool) (bool, error) {
	v, err := s.db.GetEntry(ctx, entryID)
	if err != nil {
		return false, err
	}
	if v.InCart == inCart {
		return false, nil
	}
	if err := s.db.SetEntryInCart(ctx, entryID, inCart); err != nil {
		return false, err
	}
	s.publish(KindEntry, ActionUpdated, entryID)
	return true, nil
}

// ToggleEntry flips an entry's in-cart flag and returns the new value.
func (s *Service) ToggleEntry(ctx context.Context, entryID string) (bool, error) {
	v, err := s.db.GetEntry(ctx, entryID)
	if err != nil {
		return false, err
	}
	next := !v.InCart
	if err := s.db.SetEntryInCart(ctx, entryID, next); err != nil {
		return false, err
	}
	s.publish(KindEntry, ActionUpdated, entryID)
	return next, nil
}

// RemoveChecked deletes every in-cart entry of a list and returns how many
// were removed. Either all of them go or none do.
func (s *Service) RemoveChecked(ctx context.Context, listID string) (int, error) {
	removed := 0
	err := s.db.WithTx(ctx, func(tx *db.DB) error {
		entries, err := tx.EntriesForList(ctx, listID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if !e.InCart {
				continue
			}
			if err := tx.DeleteEntry(ctx, e.ID); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.publish(KindEntry, ActionDeleted, listID)
	}
	return removed, nil
}

// DeleteList removes a list and its entries. Frequency records are kept.
func (s *Service) DeleteList(ctx context.Context, listID string) error {
	if err := s.db.DeleteList(ctx, listID); err != nil {
		return err
	}
	s.logger.Printf("Deleted list: %s", listID)
	s.publish(KindList, ActionDeleted, listID)
	return nil
}

// IsComplete reports whether every entry of a non-empty list is in the
// cart. The caller confirms with the user before calling DeleteList.
func (s *Service) IsComplete(ctx context.Context, listID string) (bool, error) {
	entries, err := s.db.EntriesForList(ctx, listID)
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return false, nil
	}
	for _, e := range entries {
		if !e.InCart {
			return false, nil
		}
	}
	return true, nil
}

// ReorderEntries records entryIDs, in order, as the store's shelf order for
// their items. Entries not on the list are rejected.
func (s *Service) ReorderEntries(ctx context.Context, listID string, entryIDs []string) error {
	list, err := s.db.GetList(ctx, listID)
	if err != nil {
		return err
	}
	entries, err := s.db.EntriesForList(ctx, listID)
	if err != nil {
		return err
	}
	byID := make(map[string]string, len(entries))
	for _, e := range entries {
		byID[e.ID] = e.ItemID
	}

	itemIDs := make([]string, 0, len(entryIDs))
	for _, id := range entryIDs {
		itemID, ok := byID[id]
		if !ok {
			return fmt.Errorf("entry %s is not on list %s: %w", id, listID, schema.ErrNotFound)
		}
		itemIDs = append(itemIDs, itemID)
	}

	err = s.db.WithTx(ctx, func(tx *db.DB) error {
		return ledger.New(tx).Reorder(ctx, list.StoreID, itemIDs)
	})
	if err != nil {
		return err
	}
	s.publish(KindFrequency, ActionUpdated, list.StoreID)
	return nil
}

func itemsOnList(ctx context.Context, store *db.DB, listID string) (map[string]bool, error) {
	entries, err := store.EntriesForList(ctx, listID)
	if err != nil {
		return nil, err
	}
	on := make(map[string]bool, len(entries))
	for _, e := range entries {
		on[e.ItemID] = true
	}
	return on, nil
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, schema.ErrNotFound)
}
