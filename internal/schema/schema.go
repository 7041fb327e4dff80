// Package schema provides the catalog and shopping-list records owned by the
// primary device.
//
// Records reference each other only by id. Back references (a store's item
// count, an item's stores) are computed by query in internal/db, never stored
// as pointers, so any reference may dangle after a delete. Display helpers
// return fallback labels in that case.
package schema

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// FallbackStoreName is shown for a list whose store was deleted.
	FallbackStoreName = "Unknown Store"

	// FallbackItemName is shown for an entry whose item was deleted.
	FallbackItemName = "Unknown Item"

	// MaxNameLength bounds store and item names.
	MaxNameLength = 200
)

// NewID returns a fresh record id.
func NewID() string {
	return uuid.NewString()
}

// Store is a shop the user buys from. ItemIDs is the unordered set of catalog
// items it carries.
type Store struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Notes      string   `json:"notes,omitempty"`
	WebsiteURL string   `json:"website_url,omitempty"`
	ItemIDs    []string `json:"item_ids,omitempty"`
}

// Validate checks if the Store has valid field values.
func (s *Store) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	return validateName(s.Name)
}

// Carries reports whether the store's catalog contains itemID.
func (s *Store) Carries(itemID string) bool {
	for _, id := range s.ItemIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// Item is a catalog product. Names are unique only softly: near-duplicates
// are flagged by internal/match, never rejected here.
type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Notes string `json:"notes,omitempty"`
	Brand string `json:"brand,omitempty"`
	Image []byte `json:"image,omitempty"`
}

// Validate checks if the Item has valid field values.
func (i *Item) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	return validateName(i.Name)
}

// ShoppingList belongs to one store. StoreID may dangle once the store is
// deleted; the list still renders with FallbackStoreName.
type ShoppingList struct {
	ID        string    `json:"id"`
	StoreID   string    `json:"store_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the ShoppingList has valid field values.
func (l *ShoppingList) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if l.StoreID == "" {
		return fmt.Errorf("%w: store_id is required", ErrInvalid)
	}
	if l.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalid)
	}
	return nil
}

// Entry is one line of a shopping list.
type Entry struct {
	ID     string `json:"id"`
	ListID string `json:"list_id"`
	ItemID string `json:"item_id"`
	Count  int    `json:"count"`
	InCart bool   `json:"in_cart"`
	Note   string `json:"note,omitempty"`
}

// Validate checks if the Entry has valid field values.
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalid)
	}
	if e.ListID == "" {
		return fmt.Errorf("%w: list_id is required", ErrInvalid)
	}
	if e.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", ErrInvalid)
	}
	if e.Count < 1 {
		return fmt.Errorf("%w: count must be at least 1 (got %d)", ErrInvalid, e.Count)
	}
	return nil
}

// EntryView is an Entry with its item fields resolved at read time.
// ItemFound is false when the referenced item no longer exists.
type EntryView struct {
	Entry
	ItemFound bool
	ItemName  string
	ItemNotes string
	Brand     string
	Image     []byte
}

// DisplayName returns the item name or FallbackItemName for a dangling entry.
func (v *EntryView) DisplayName() string {
	if !v.ItemFound || strings.TrimSpace(v.ItemName) == "" {
		return FallbackItemName
	}
	return v.ItemName
}

// ListView is a ShoppingList with its store name resolved.
type ListView struct {
	ShoppingList
	StoreFound bool
	StoreName  string
}

// DisplayStoreName returns the store name or FallbackStoreName.
func (v *ListView) DisplayStoreName() string {
	if !v.StoreFound || strings.TrimSpace(v.StoreName) == "" {
		return FallbackStoreName
	}
	return v.StoreName
}

// FrequencyRecord counts how often an item was put on a list for a store and
// holds the manual shelf order. A nil SortOrder means unset and sorts last.
type FrequencyRecord struct {
	StoreID   string `json:"store_id"`
	ItemID    string `json:"item_id"`
	Count     int    `json:"count"`
	SortOrder *int   `json:"sort_order,omitempty"`
}

// Order returns the effective sort key: SortOrder, or math.MaxInt when unset.
func (f *FrequencyRecord) Order() int {
	if f == nil || f.SortOrder == nil {
		return math.MaxInt
	}
	return *f.SortOrder
}

// Validate checks if the FrequencyRecord has valid field values.
func (f *FrequencyRecord) Validate() error {
	if f.StoreID == "" {
		return fmt.Errorf("%w: store_id is required", ErrInvalid)
	}
	if f.ItemID == "" {
		return fmt.Errorf("%w: item_id is required", ErrInvalid)
	}
	if f.Count < 0 {
		return fmt.Errorf("%w: count must not be negative (got %d)", ErrInvalid, f.Count)
	}
	return nil
}

func validateName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if len(trimmed) > MaxNameLength {
		return fmt.Errorf("%w: name must be %d characters or less (got %d)", ErrInvalid, MaxNameLength, len(trimmed))
	}
	return nil
}
