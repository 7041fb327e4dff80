package migrate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/schema"
)

func openDB(t *testing.T, name string) *db.DB {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema())
	return database
}

func ptrInt(n int) *int { return &n }

// seed fills database with a store, two items, one list and its ledger.
func seed(t *testing.T, database *db.DB) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, database.UpsertItem(ctx, &schema.Item{ID: "milk", Name: "Milk", Brand: "Acme", Image: []byte{0xff, 0xd8, 0x00}}))
	require.NoError(t, database.UpsertItem(ctx, &schema.Item{ID: "bread", Name: "Bread"}))
	require.NoError(t, database.UpsertStore(ctx, &schema.Store{ID: "wf", Name: "Whole Foods", ItemIDs: []string{"milk", "bread"}}))
	require.NoError(t, database.UpsertList(ctx, &schema.ShoppingList{
		ID: "L", StoreID: "wf", CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, database.UpsertEntry(ctx, &schema.Entry{ID: "e1", ListID: "L", ItemID: "milk", Count: 1, InCart: true}))
	require.NoError(t, database.UpsertEntry(ctx, &schema.Entry{ID: "e2", ListID: "L", ItemID: "bread", Count: 2, Note: "rye"}))
	require.NoError(t, database.UpsertFrequency(ctx, &schema.FrequencyRecord{StoreID: "wf", ItemID: "milk", Count: 3, SortOrder: ptrInt(0)}))
	require.NoError(t, database.UpsertFrequency(ctx, &schema.FrequencyRecord{StoreID: "wf", ItemID: "bread", Count: 1}))
}

func TestExportOrder(t *testing.T) {
	database := openDB(t, "src.db")
	seed(t, database)

	var buf bytes.Buffer
	result, err := Export(context.Background(), database, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Items)
	assert.Equal(t, 1, result.Stores)
	assert.Equal(t, 1, result.Lists)
	assert.Equal(t, 2, result.Entries)
	assert.Equal(t, 2, result.Frequencies)
	assert.Equal(t, 8, result.Total())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 8)
	kinds := make([]string, 0, len(lines))
	for _, l := range lines {
		kinds = append(kinds, l[strings.Index(l, `"kind":"`)+8:][:4])
	}
	// Dependency order: items before stores before lists before entries.
	assert.Equal(t, []string{"item", "item", "stor", "list", "entr", "entr", "freq", "freq"}, kinds)
}

func TestRoundTripThroughFile(t *testing.T) {
	ctx := context.Background()
	src := openDB(t, "src.db")
	seed(t, src)

	path := filepath.Join(t.TempDir(), "export.jsonl")
	_, err := ExportFile(ctx, src, path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file must be renamed away")

	dst := openDB(t, "dst.db")
	result, err := Import(ctx, dst, ImportOptions{FromJSONL: path})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 8, result.Total())

	store, err := dst.GetStore(ctx, "wf")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"milk", "bread"}, store.ItemIDs)

	milk, err := dst.GetItem(ctx, "milk")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8, 0x00}, milk.Image)

	list, err := dst.GetList(ctx, "L")
	require.NoError(t, err)
	assert.True(t, list.CreatedAt.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))

	e1, err := dst.GetEntry(ctx, "e1")
	require.NoError(t, err)
	assert.True(t, e1.InCart)
	e2, err := dst.GetEntry(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, 2, e2.Count)
	assert.Equal(t, "rye", e2.Note)

	f, err := dst.GetFrequency(ctx, "wf", "milk")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Count)
	require.NotNil(t, f.SortOrder)
	assert.Equal(t, 0, *f.SortOrder)

	f, err = dst.GetFrequency(ctx, "wf", "bread")
	require.NoError(t, err)
	assert.Nil(t, f.SortOrder)

	// Upserts make a second import a no-op.
	before, err := dst.GetStats(ctx)
	require.NoError(t, err)
	_, err = Import(ctx, dst, ImportOptions{FromJSONL: path})
	require.NoError(t, err)
	after, err := dst.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestImportDryRun(t *testing.T) {
	ctx := context.Background()
	src := openDB(t, "src.db")
	seed(t, src)
	path := filepath.Join(t.TempDir(), "export.jsonl")
	_, err := ExportFile(ctx, src, path)
	require.NoError(t, err)

	dst := openDB(t, "dst.db")
	result, err := Import(ctx, dst, ImportOptions{FromJSONL: path, DryRun: true, Backup: true})
	require.NoError(t, err)
	assert.Equal(t, 8, result.Total())
	assert.Empty(t, result.BackupCreated, "dry run never backs up")

	items, err := dst.ListItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestImportBackup(t *testing.T) {
	ctx := context.Background()
	src := openDB(t, "src.db")
	seed(t, src)
	path := filepath.Join(t.TempDir(), "export.jsonl")
	_, err := ExportFile(ctx, src, path)
	require.NoError(t, err)

	dst := openDB(t, "dst.db")
	require.NoError(t, dst.UpsertItem(ctx, &schema.Item{ID: "eggs", Name: "Eggs"}))

	result, err := Import(ctx, dst, ImportOptions{FromJSONL: path, Backup: true})
	require.NoError(t, err)
	require.NotEmpty(t, result.BackupCreated)

	backup, err := db.Open(result.BackupCreated)
	require.NoError(t, err)
	defer backup.Close()
	items, err := backup.ListItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1, "backup holds the pre-import state")
	assert.Equal(t, "eggs", items[0].ID)
}

func TestImportCollectsRecordErrors(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "in.jsonl")
	data := strings.Join([]string{
		`{"kind":"item","item":{"id":"milk","name":"Milk"}}`,
		``,
		`{"kind":"entry","entry":{"id":"e1","list_id":"missing","item_id":"milk","count":1}}`,
		`{"kind":"item","item":{"id":"bread","name":"Bread"}}`,
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	dst := openDB(t, "dst.db")
	result, err := Import(ctx, dst, ImportOptions{FromJSONL: path})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Items)
	assert.Zero(t, result.Entries)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "entry")
}

func TestFromJSONL_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := FromJSONL(filepath.Join(dir, "nope.jsonl"))
	assert.Error(t, err)

	tests := map[string]string{
		"bad json":        `{"kind":`,
		"unknown kind":    `{"kind":"coupon"}`,
		"missing payload": `{"kind":"store"}`,
	}
	for name, line := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".jsonl")
			require.NoError(t, os.WriteFile(path, []byte(`{"kind":"item","item":{"id":"a","name":"A"}}`+"\n"+line+"\n"), 0o600))
			_, err := FromJSONL(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "line 2")
		})
	}
}

func TestExportYAML(t *testing.T) {
	ctx := context.Background()
	database := openDB(t, "src.db")
	seed(t, database)
	require.NoError(t, database.DeleteItem(ctx, "bread"))

	var buf bytes.Buffer
	require.NoError(t, ExportYAML(ctx, database, &buf))

	var doc Document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))

	require.Len(t, doc.Stores, 1)
	assert.Equal(t, []string{"Milk"}, doc.Stores[0].Items)

	require.Len(t, doc.Items, 1)
	assert.True(t, doc.Items[0].HasImage)
	assert.NotContains(t, buf.String(), "image:")

	require.Len(t, doc.Lists, 1)
	l := doc.Lists[0]
	assert.Equal(t, "Whole Foods", l.Store)
	assert.Equal(t, "2024-05-01 10:00", l.Created)
	require.Len(t, l.Entries, 2)
	assert.Equal(t, "Milk", l.Entries[0].Item)
	assert.Equal(t, schema.FallbackItemName, l.Entries[1].Item)
}
