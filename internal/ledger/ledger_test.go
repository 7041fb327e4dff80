package ledger

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsmart/shopsync/internal/schema"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	recs map[string]*schema.FrequencyRecord
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]*schema.FrequencyRecord)}
}

func (m *memStore) GetFrequency(_ context.Context, storeID, itemID string) (*schema.FrequencyRecord, error) {
	rec, ok := m.recs[storeID+"/"+itemID]
	if !ok {
		return nil, schema.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memStore) UpsertFrequency(_ context.Context, rec *schema.FrequencyRecord) error {
	cp := *rec
	m.recs[rec.StoreID+"/"+rec.ItemID] = &cp
	return nil
}

func (m *memStore) ListFrequencies(_ context.Context, storeID string) ([]*schema.FrequencyRecord, error) {
	var out []*schema.FrequencyRecord
	for _, rec := range m.recs {
		if rec.StoreID == storeID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func TestIncrement(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(store)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Increment(ctx, "S", "I"))
	}

	rec, err := store.GetFrequency(ctx, "S", "I")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Count)
	assert.Nil(t, rec.SortOrder, "increment must not set a sort order")
}

func TestSetSortOrderCreatesZeroCountRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(store)

	require.NoError(t, l.SetSortOrder(ctx, "S", "I", 4))

	rec, err := store.GetFrequency(ctx, "S", "I")
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Count)
	assert.Equal(t, 4, rec.Order())

	// Order and count are independent.
	require.NoError(t, l.Increment(ctx, "S", "I"))
	rec, err = store.GetFrequency(ctx, "S", "I")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, 4, rec.Order())
}

func TestSetSortOrderAcceptsOutOfRange(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(store)

	require.NoError(t, l.SetSortOrder(ctx, "S", "I", -7))
	rec, err := store.GetFrequency(ctx, "S", "I")
	require.NoError(t, err)
	assert.Equal(t, -7, rec.Order())
}

func TestRank(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(store)

	bump := func(item string, n int) {
		for i := 0; i < n; i++ {
			require.NoError(t, l.Increment(ctx, "S", item))
		}
	}
	bump("I1", 3)
	bump("I2", 3)
	bump("I3", 1)
	// Counts at another store must not leak in.
	require.NoError(t, l.Increment(ctx, "other", "I3"))
	require.NoError(t, l.Increment(ctx, "other", "I3"))
	require.NoError(t, l.Increment(ctx, "other", "I3"))

	items := []*schema.Item{
		{ID: "I3", Name: "Cheese"},
		{ID: "I1", Name: "Bread"},
		{ID: "I4", Name: "apricots"},
		{ID: "I2", Name: "Apples"},
	}

	ranked, err := l.Rank(ctx, "S", items)
	require.NoError(t, err)
	assert.Equal(t, []string{"I2", "I1", "I3", "I4"}, itemIDs(ranked))
	assert.Equal(t, "I3", items[0].ID, "input must not be reordered")
}

func TestSortEntries(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(store)

	require.NoError(t, l.SetSortOrder(ctx, "S", "b", 2))
	require.NoError(t, l.SetSortOrder(ctx, "S", "c", 0))

	entries := []*schema.EntryView{
		view("e1", "b", "B"),
		view("e2", "a", "A"),
		view("e3", "c", "C"),
	}

	sorted, err := l.SortEntries(ctx, "S", entries)
	require.NoError(t, err)
	assert.Equal(t, []string{"C", "B", "A"}, names(sorted))
}

func TestSortByOrderMaxIntStillBeforeUnset(t *testing.T) {
	entries := []*schema.EntryView{
		view("e1", "a", "Apples"),
		view("e2", "z", "Zucchini"),
	}

	sorted := SortByOrder(entries, map[string]int{"z": math.MaxInt})
	assert.Equal(t, []string{"e2", "e1"}, entryIDs(sorted))
}

func TestSortByOrderStableOnTies(t *testing.T) {
	entries := []*schema.EntryView{
		view("e1", "x", "milk"),
		view("e2", "y", "Milk"),
		view("e3", "z", "apples"),
	}

	for i := 0; i < 10; i++ {
		sorted := SortByOrder(entries, map[string]int{})
		assert.Equal(t, []string{"e3", "e1", "e2"}, entryIDs(sorted))
	}
}

func TestSortByOrderDanglingItemUsesFallbackName(t *testing.T) {
	dangling := &schema.EntryView{Entry: schema.Entry{ID: "e1", ItemID: "gone"}}
	named := view("e2", "i", "Zucchini")

	sorted := SortByOrder([]*schema.EntryView{named, dangling}, nil)
	assert.Equal(t, []string{"e1", "e2"}, entryIDs(sorted))
}

func TestReorder(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	l := New(store)

	require.NoError(t, l.Reorder(ctx, "S", []string{"c", "a", "b"}))

	orders, err := l.Orders(ctx, "S")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c": 0, "a": 1, "b": 2}, orders)
}

func view(id, itemID, name string) *schema.EntryView {
	return &schema.EntryView{
		Entry:     schema.Entry{ID: id, ItemID: itemID, Count: 1},
		ItemFound: true,
		ItemName:  name,
	}
}

func itemIDs(items []*schema.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func names(entries []*schema.EntryView) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.DisplayName()
	}
	return out
}

func entryIDs(entries []*schema.EntryView) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
