package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsmart/shopsync/internal/wire"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 15, 12, 0, 0, 0, time.UTC)

	got, err := parseSince("2024-05-01", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("yesterday", now)
	require.NoError(t, err)
	assert.Equal(t, 14, got.Day())
	assert.Equal(t, time.May, got.Month())

	_, err = parseSince("whenever", now)
	assert.Error(t, err)
}

func TestResolveEntry(t *testing.T) {
	list := &wire.ListRecord{
		ID: "l1",
		Entries: []wire.EntryRecord{
			{ID: "e1", ItemName: "Milk"},
			{ID: "e2", ItemName: "Bread"},
		},
	}

	for _, ref := range []string{"2", "#2", "e2", "bread"} {
		e, err := resolveEntry(list, ref)
		require.NoError(t, err, ref)
		assert.Equal(t, "e2", e.ID, ref)
	}

	_, err := resolveEntry(list, "3")
	assert.Error(t, err)
	_, err = resolveEntry(list, "Eggs")
	assert.Error(t, err)
}
