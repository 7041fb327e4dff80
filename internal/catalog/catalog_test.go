package catalog

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/schema"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema())

	return New(database, log.New(io.Discard, "", 0))
}

// seed creates store "wf" carrying milk, bread and eggs.
func seed(t *testing.T, s *Service) {
	t.Helper()
	ctx := context.Background()

	for _, it := range []*schema.Item{
		{ID: "milk", Name: "Milk"},
		{ID: "bread", Name: "Bread"},
		{ID: "eggs", Name: "Eggs"},
	} {
		require.NoError(t, s.CreateItem(ctx, it))
	}
	require.NoError(t, s.CreateStore(ctx, &schema.Store{
		ID: "wf", Name: "Whole Foods", ItemIDs: []string{"milk", "bread", "eggs"},
	}))
}

func count(t *testing.T, s *Service, storeID, itemID string) int {
	t.Helper()
	rec, err := s.DB().GetFrequency(context.Background(), storeID, itemID)
	if IsNotFound(err) {
		return 0
	}
	require.NoError(t, err)
	return rec.Count
}

func entriesByItem(t *testing.T, s *Service, listID string) map[string]*schema.EntryView {
	t.Helper()
	entries, err := s.DB().EntriesForList(context.Background(), listID)
	require.NoError(t, err)
	out := make(map[string]*schema.EntryView, len(entries))
	for _, e := range entries {
		out[e.ItemID] = e
	}
	return out
}

func TestBuildListCreatesListAndIncrements(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{
		{ItemID: "milk", Count: 1},
		{ItemID: "bread", Count: 2, Note: "rye"},
	})
	require.NoError(t, err)

	entries := entriesByItem(t, s, list.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries["bread"].Count)
	assert.Equal(t, "rye", entries["bread"].Note)
	assert.False(t, entries["milk"].InCart)

	assert.Equal(t, 1, count(t, s, "wf", "milk"))
	assert.Equal(t, 1, count(t, s, "wf", "bread"))
	assert.Equal(t, 0, count(t, s, "wf", "eggs"))
}

func TestBuildListRejectsEmptyNewList(t *testing.T) {
	s := newTestService(t)
	seed(t, s)

	_, err := s.BuildList(context.Background(), "wf", nil)
	assert.ErrorIs(t, err, schema.ErrInvalid)
}

func TestBuildListEmptyRebuildChangesNothing(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}, {ItemID: "bread", Count: 2}})
	require.NoError(t, err)
	before, err := s.DB().GetList(ctx, list.ID)
	require.NoError(t, err)

	_, err = s.BuildList(ctx, "wf", nil)
	assert.ErrorIs(t, err, schema.ErrInvalid)
	_, err = s.BuildList(ctx, "wf", []Selection{})
	assert.ErrorIs(t, err, schema.ErrInvalid)

	entries := entriesByItem(t, s, list.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, 2, entries["bread"].Count)

	after, err := s.DB().GetList(ctx, list.ID)
	require.NoError(t, err)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt), "timestamp is not refreshed")
	assert.Equal(t, 1, count(t, s, "wf", "milk"))
}

// failFrequencyInsert makes any frequency write for itemID fail.
func failFrequencyInsert(t *testing.T, s *Service, itemID string) {
	t.Helper()
	_, err := s.DB().RawDB().Exec(`
		CREATE TRIGGER fail_frequency BEFORE INSERT ON frequencies
		WHEN NEW.item_id = '` + itemID + `'
		BEGIN SELECT RAISE(ABORT, 'frequency write refused'); END`)
	require.NoError(t, err)
}

func TestBuildListRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}, {ItemID: "bread", Count: 2}})
	require.NoError(t, err)

	var changes []Change
	s.Subscribe(func(c Change) { changes = append(changes, c) })
	failFrequencyInsert(t, s, "eggs")

	_, err = s.BuildList(ctx, "wf", []Selection{{ItemID: "bread", Count: 5}, {ItemID: "eggs", Count: 12}})
	require.Error(t, err)

	entries := entriesByItem(t, s, list.ID)
	require.Len(t, entries, 2, "unchecked entries survive a failed rebuild")
	assert.Equal(t, 2, entries["bread"].Count)
	assert.NotContains(t, entries, "eggs")
	assert.Empty(t, changes, "nothing is published for a rolled back build")

	added, err := s.AddFromStore(ctx, list.ID, []string{"eggs"})
	require.Error(t, err)
	assert.Equal(t, 0, added)
	assert.NotContains(t, entriesByItem(t, s, list.ID), "eggs")
}

func TestBuildListNewListRollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)
	failFrequencyInsert(t, s, "eggs")

	_, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}, {ItemID: "eggs", Count: 6}})
	require.Error(t, err)

	list, err := s.ListForStore(ctx, "wf")
	require.NoError(t, err)
	assert.Nil(t, list, "no half-built list is left behind")
	assert.Equal(t, 0, count(t, s, "wf", "milk"))
}

func TestBuildListResaveDoesNotDoubleCount(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	first, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}, {ItemID: "bread", Count: 1}})
	require.NoError(t, err)

	// Milk goes in the cart; bread stays unchecked.
	milk := entriesByItem(t, s, first.ID)["milk"]
	_, err = s.SetInCart(ctx, milk.ID, true)
	require.NoError(t, err)

	// Reopen the builder: bread again with a new count, milk again, plus eggs.
	second, err := s.BuildList(ctx, "wf", []Selection{
		{ItemID: "milk", Count: 1},
		{ItemID: "bread", Count: 3},
		{ItemID: "eggs", Count: 12},
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "the store's list is reused")

	entries := entriesByItem(t, s, first.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, milk.ID, entries["milk"].ID, "in-cart entry is kept as is")
	assert.True(t, entries["milk"].InCart)
	assert.Equal(t, 3, entries["bread"].Count)
	assert.Equal(t, 12, entries["eggs"].Count)

	assert.Equal(t, 1, count(t, s, "wf", "milk"))
	assert.Equal(t, 1, count(t, s, "wf", "bread"))
	assert.Equal(t, 1, count(t, s, "wf", "eggs"))
}

func TestPreselection(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	pre, err := s.Preselection(ctx, "wf")
	require.NoError(t, err)
	assert.Empty(t, pre)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 2, Note: "2%"}, {ItemID: "bread", Count: 1}})
	require.NoError(t, err)
	_, err = s.SetInCart(ctx, entriesByItem(t, s, list.ID)["bread"].ID, true)
	require.NoError(t, err)

	pre, err = s.Preselection(ctx, "wf")
	require.NoError(t, err)
	assert.Equal(t, map[string]Selection{"milk": {ItemID: "milk", Count: 2, Note: "2%"}}, pre)
}

func TestCandidatesAndAddFromStore(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Ledger().Increment(ctx, "wf", "eggs"))
	}

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}})
	require.NoError(t, err)

	cands, err := s.Candidates(ctx, list.ID)
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "eggs", cands[0].ID)
	assert.Equal(t, "bread", cands[1].ID)

	added, err := s.AddFromStore(ctx, list.ID, []string{"bread", "milk"})
	require.NoError(t, err)
	assert.Equal(t, 1, added, "milk is already on the list")
	assert.Equal(t, 1, count(t, s, "wf", "bread"))
	assert.Equal(t, 1, count(t, s, "wf", "milk"))
}

func TestDeleteListKeepsFrequencies(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}})
	require.NoError(t, err)
	require.NoError(t, s.DeleteList(ctx, list.ID))

	current, err := s.ListForStore(ctx, "wf")
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.Equal(t, 1, count(t, s, "wf", "milk"))

	// A fresh list counts again.
	_, err = s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, count(t, s, "wf", "milk"))
}

func TestSetInCartAndToggle(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}})
	require.NoError(t, err)
	id := entriesByItem(t, s, list.ID)["milk"].ID

	changed, err := s.SetInCart(ctx, id, true)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.SetInCart(ctx, id, true)
	require.NoError(t, err)
	assert.False(t, changed, "setting the same value twice is a no-op")

	next, err := s.ToggleEntry(ctx, id)
	require.NoError(t, err)
	assert.False(t, next)

	_, err = s.SetInCart(ctx, "missing", true)
	assert.True(t, IsNotFound(err))
}

func TestRemoveCheckedAndIsComplete(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk", Count: 1}, {ItemID: "bread", Count: 1}})
	require.NoError(t, err)
	entries := entriesByItem(t, s, list.ID)

	done, err := s.IsComplete(ctx, list.ID)
	require.NoError(t, err)
	assert.False(t, done)

	_, err = s.SetInCart(ctx, entries["milk"].ID, true)
	require.NoError(t, err)
	_, err = s.SetInCart(ctx, entries["bread"].ID, true)
	require.NoError(t, err)

	done, err = s.IsComplete(ctx, list.ID)
	require.NoError(t, err)
	assert.True(t, done)

	removed, err := s.RemoveChecked(ctx, list.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	done, err = s.IsComplete(ctx, list.ID)
	require.NoError(t, err)
	assert.False(t, done, "an empty list is not complete")
}

func TestReorderEntriesDrivesShelfOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk"}, {ItemID: "bread"}, {ItemID: "eggs"}})
	require.NoError(t, err)
	by := entriesByItem(t, s, list.ID)

	require.NoError(t, s.ReorderEntries(ctx, list.ID, []string{by["eggs"].ID, by["milk"].ID, by["bread"].ID}))

	sorted, err := s.Entries(ctx, list.ID)
	require.NoError(t, err)
	names := make([]string, len(sorted))
	for i, e := range sorted {
		names[i] = e.DisplayName()
	}
	assert.Equal(t, []string{"Eggs", "Milk", "Bread"}, names)

	err = s.ReorderEntries(ctx, list.ID, []string{"nope"})
	assert.True(t, IsNotFound(err))
}

func TestDeleteItemLeavesEntryWithFallback(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	seed(t, s)

	list, err := s.BuildList(ctx, "wf", []Selection{{ItemID: "milk"}})
	require.NoError(t, err)
	require.NoError(t, s.DeleteItem(ctx, "milk"))

	store, err := s.DB().GetStore(ctx, "wf")
	require.NoError(t, err)
	assert.False(t, store.Carries("milk"))

	entries, err := s.Entries(ctx, list.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, schema.FallbackItemName, entries[0].DisplayName())
}

func TestCheckName(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)
	require.NoError(t, s.CreateItem(ctx, &schema.Item{Name: "Berry"}))
	require.NoError(t, s.CreateItem(ctx, &schema.Item{Name: "Bread"}))

	similar, err := s.CheckName(ctx, "berries")
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, "Berry", similar[0].Name)
}

func TestSubscribeReceivesCommittedChanges(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	var got []Change
	unsubscribe := s.Subscribe(func(c Change) { got = append(got, c) })

	require.NoError(t, s.CreateItem(ctx, &schema.Item{ID: "milk", Name: "Milk"}))
	require.NoError(t, s.CreateStore(ctx, &schema.Store{ID: "wf", Name: "WF"}))

	// A failed write publishes nothing.
	assert.Error(t, s.CreateItem(ctx, &schema.Item{ID: "bad"}))

	unsubscribe()
	require.NoError(t, s.DeleteItem(ctx, "milk"))

	assert.Equal(t, []Change{
		{Kind: KindItem, Action: ActionCreated, ID: "milk"},
		{Kind: KindStore, Action: ActionCreated, ID: "wf"},
	}, got)
}
