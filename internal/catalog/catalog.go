// Package catalog applies user actions to the primary store of record.
//
// Every mutating method writes through internal/db and, once the write has
// committed, publishes a Change to subscribers. The sync coordinator
// subscribes to schedule a snapshot push; nothing else needs to poll.
package catalog

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/ledger"
	"github.com/shopsmart/shopsync/internal/match"
	"github.com/shopsmart/shopsync/internal/schema"
)

// Kind names the collection a Change touched.
type Kind string

const (
	KindStore     Kind = "store"
	KindItem      Kind = "item"
	KindList      Kind = "list"
	KindEntry     Kind = "entry"
	KindFrequency Kind = "frequency"
)

// Action names what happened to the record.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// Change describes one committed mutation.
type Change struct {
	Kind   Kind
	Action Action
	ID     string
}

// Selection is one item picked in the list builder.
type Selection struct {
	ItemID string
	Count  int
	Note   string
}

// Service owns all primary-side mutations.
type Service struct {
	db     *db.DB
	ledger *ledger.Ledger
	logger *log.Logger
	now    func() time.Time

	subsMu sync.RWMutex
	subs   map[int]func(Change)
	nextID int
}

// New creates a catalog service over an initialized database.
// If logger is nil, a default logger writing to stderr is used.
func New(database *db.DB, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[catalog] ", log.LstdFlags)
	}
	return &Service{
		db:     database,
		ledger: ledger.New(database),
		logger: logger,
		now:    time.Now,
		subs:   make(map[int]func(Change)),
	}
}

// Ledger returns the frequency ledger the service writes to.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// DB returns the underlying store of record.
func (s *Service) DB() *db.DB {
	return s.db
}

// Subscribe registers fn to receive every committed change. Callbacks run
// synchronously on the mutating goroutine, after the write. The returned
// function removes the subscription.
func (s *Service) Subscribe(fn func(Change)) (unsubscribe func()) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Service) publish(kind Kind, action Action, id string) {
	s.subsMu.RLock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.RUnlock()

	c := Change{Kind: kind, Action: action, ID: id}
	for _, fn := range fns {
		fn(c)
	}
}

// CreateStore adds a store. An empty ID is filled in.
func (s *Service) CreateStore(ctx context.Context, store *schema.Store) error {
	if store.ID == "" {
		store.ID = schema.NewID()
	}
	if err := s.db.UpsertStore(ctx, store); err != nil {
		return err
	}
	s.logger.Printf("Created store: %s (%s)", store.ID, store.Name)
	s.publish(KindStore, ActionCreated, store.ID)
	return nil
}

// UpdateStore replaces a store's fields and catalog set.
func (s *Service) UpdateStore(ctx context.Context, store *schema.Store) error {
	if _, err := s.db.GetStore(ctx, store.ID); err != nil {
		return err
	}
	if err := s.db.UpsertStore(ctx, store); err != nil {
		return err
	}
	s.publish(KindStore, ActionUpdated, store.ID)
	return nil
}

// DeleteStore removes a store. Its lists are kept and render with a
// fallback store name.
func (s *Service) DeleteStore(ctx context.Context, id string) error {
	if err := s.db.DeleteStore(ctx, id); err != nil {
		return err
	}
	s.logger.Printf("Deleted store: %s", id)
	s.publish(KindStore, ActionDeleted, id)
	return nil
}

// CheckName returns catalog items whose names are near-duplicates of name.
// It only classifies; the caller decides whether to reuse one or create a
// new item anyway.
func (s *Service) CheckName(ctx context.Context, name string) ([]*schema.Item, error) {
	items, err := s.db.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	return match.FindSimilar(name, items), nil
}

// CreateItem adds an item. An empty ID is filled in.
func (s *Service) CreateItem(ctx context.Context, item *schema.Item) error {
	if item.ID == "" {
		item.ID = schema.NewID()
	}
	if err := s.db.UpsertItem(ctx, item); err != nil {
		return err
	}
	s.logger.Printf("Created item: %s (%s)", item.ID, item.Name)
	s.publish(KindItem, ActionCreated, item.ID)
	return nil
}

// UpdateItem replaces an item's fields. Entries pick the change up at the
// next render.
func (s *Service) UpdateItem(ctx context.Context, item *schema.Item) error {
	if _, err := s.db.GetItem(ctx, item.ID); err != nil {
		return err
	}
	if err := s.db.UpsertItem(ctx, item); err != nil {
		return err
	}
	s.publish(KindItem, ActionUpdated, item.ID)
	return nil
}

// DeleteItem removes an item and drops it from every store catalog.
// Entries that reference it stay and show a fallback name.
func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if err := s.db.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.logger.Printf("Deleted item: %s", id)
	s.publish(KindItem, ActionDeleted, id)
	return nil
}

// AssignItem adds an item to a store's catalog.
func (s *Service) AssignItem(ctx context.Context, storeID, itemID string) error {
	if _, err := s.db.GetStore(ctx, storeID); err != nil {
		return fmt.Errorf("store %s: %w", storeID, err)
	}
	if _, err := s.db.GetItem(ctx, itemID); err != nil {
		return fmt.Errorf("item %s: %w", itemID, err)
	}
	if err := s.db.AssignItem(ctx, storeID, itemID); err != nil {
		return err
	}
	s.publish(KindStore, ActionUpdated, storeID)
	return nil
}

// UnassignItem removes an item from a store's catalog.
func (s *Service) UnassignItem(ctx context.Context, storeID, itemID string) error {
	if err := s.db.UnassignItem(ctx, storeID, itemID); err != nil {
		return err
	}
	s.publish(KindStore, ActionUpdated, storeID)
	return nil
}

// StoreItems returns a store's catalog ranked by purchase frequency.
func (s *Service) StoreItems(ctx context.Context, storeID string) ([]*schema.Item, error) {
	items, err := s.db.ItemsForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return s.ledger.Rank(ctx, storeID, items)
}

// ListForStore returns the store's current list, or nil if it has none.
// A store has at most one list at a time; if older data holds more, the
// oldest is used.
func (s *Service) ListForStore(ctx context.Context, storeID string) (*schema.ListView, error) {
	lists, err := s.db.ListsForStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return nil, nil
	}
	return lists[0], nil
}

// Entries returns a list's entries in shelf order.
func (s *Service) Entries(ctx context.Context, listID string) ([]*schema.EntryView, error) {
	list, err := s.db.GetList(ctx, listID)
	if err != nil {
		return nil, err
	}
	entries, err := s.db.EntriesForList(ctx, listID)
	if err != nil {
		return nil, err
	}
	return s.ledger.SortEntries(ctx, list.StoreID, entries)
}
