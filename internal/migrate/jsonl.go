// Package migrate moves the primary's catalog in and out of the database.
//
// The interchange format is JSONL: one tagged record per line, written in
// dependency order (items, stores, lists, entries, frequencies) so an
// import can replay the file top to bottom.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/schema"
)

// Record kinds.
const (
	KindItem      = "item"
	KindStore     = "store"
	KindList      = "list"
	KindEntry     = "entry"
	KindFrequency = "frequency"
)

// maxLineSize bounds one JSONL line. Item images are inlined as base64.
const maxLineSize = 32 << 20

// Record is one JSONL line. Exactly one payload field is set, matching Kind.
type Record struct {
	Kind      string                  `json:"kind"`
	Item      *schema.Item            `json:"item,omitempty"`
	Store     *schema.Store           `json:"store,omitempty"`
	List      *schema.ShoppingList    `json:"list,omitempty"`
	Entry     *schema.Entry           `json:"entry,omitempty"`
	Frequency *schema.FrequencyRecord `json:"frequency,omitempty"`
}

// ExportResult contains statistics about an export.
type ExportResult struct {
	Items       int
	Stores      int
	Lists       int
	Entries     int
	Frequencies int
}

// Total returns the number of records written.
func (r *ExportResult) Total() int {
	return r.Items + r.Stores + r.Lists + r.Entries + r.Frequencies
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	FromJSONL string // Input JSONL file path
	DryRun    bool   // Parse and count without writing
	Backup    bool   // Snapshot the database before writing
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	ExportResult
	BackupCreated string
	Errors        []string
}

// Export writes every record in database to w as JSONL.
func Export(ctx context.Context, database *db.DB, w io.Writer) (*ExportResult, error) {
	result := &ExportResult{}
	enc := json.NewEncoder(w)
	emit := func(rec Record) error {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("failed to write %s record: %w", rec.Kind, err)
		}
		return nil
	}

	items, err := database.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	for _, item := range items {
		if err := emit(Record{Kind: KindItem, Item: item}); err != nil {
			return nil, err
		}
		result.Items++
	}

	stores, err := database.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	for _, store := range stores {
		if err := emit(Record{Kind: KindStore, Store: store}); err != nil {
			return nil, err
		}
		result.Stores++
	}

	lists, err := database.ListLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	for _, l := range lists {
		list := l.ShoppingList
		if err := emit(Record{Kind: KindList, List: &list}); err != nil {
			return nil, err
		}
		result.Lists++
	}
	for _, l := range lists {
		entries, err := database.EntriesForList(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of %s: %w", l.ID, err)
		}
		for _, e := range entries {
			entry := e.Entry
			if err := emit(Record{Kind: KindEntry, Entry: &entry}); err != nil {
				return nil, err
			}
			result.Entries++
		}
	}

	freqs, err := database.AllFrequencies(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list frequencies: %w", err)
	}
	for _, f := range freqs {
		if err := emit(Record{Kind: KindFrequency, Frequency: f}); err != nil {
			return nil, err
		}
		result.Frequencies++
	}

	return result, nil
}

// ExportFile writes the JSONL export to path atomically.
func ExportFile(ctx context.Context, database *db.DB, path string) (*ExportResult, error) {
	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	result, err := Export(ctx, database, w)
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// FromJSONL reads a JSONL file. Blank lines are skipped; a line that is not
// a valid record fails the whole read.
func FromJSONL(jsonlPath string) ([]Record, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(jsonlPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if err := rec.check(); err != nil {
			return nil, fmt.Errorf("invalid record at line %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL file: %w", err)
	}

	return records, nil
}

func (r *Record) check() error {
	var ok bool
	switch r.Kind {
	case KindItem:
		ok = r.Item != nil
	case KindStore:
		ok = r.Store != nil
	case KindList:
		ok = r.List != nil
	case KindEntry:
		ok = r.Entry != nil
	case KindFrequency:
		ok = r.Frequency != nil
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	if !ok {
		return fmt.Errorf("%s record has no %s payload", r.Kind, r.Kind)
	}
	return nil
}

// Import replays a JSONL export into database. Records are upserted, so
// importing the same file twice is harmless. A record that fails is
// reported in ImportResult.Errors and the import continues.
func Import(ctx context.Context, database *db.DB, opts ImportOptions) (*ImportResult, error) {
	result := &ImportResult{}

	if _, err := os.Stat(opts.FromJSONL); err != nil {
		return nil, fmt.Errorf("input file does not exist: %w", err)
	}

	records, err := FromJSONL(opts.FromJSONL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	if opts.Backup && !opts.DryRun {
		backupPath, err := Backup(ctx, database)
		if err != nil {
			return nil, err
		}
		result.BackupCreated = backupPath
	}

	for i := range records {
		rec := &records[i]
		if !opts.DryRun {
			if err := apply(ctx, database, rec); err != nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("failed to import %s record %d: %v", rec.Kind, i+1, err))
				continue
			}
		}
		result.count(rec.Kind)
	}

	return result, nil
}

func (r *ExportResult) count(kind string) {
	switch kind {
	case KindItem:
		r.Items++
	case KindStore:
		r.Stores++
	case KindList:
		r.Lists++
	case KindEntry:
		r.Entries++
	case KindFrequency:
		r.Frequencies++
	}
}

func apply(ctx context.Context, database *db.DB, rec *Record) error {
	switch rec.Kind {
	case KindItem:
		return database.UpsertItem(ctx, rec.Item)
	case KindStore:
		return database.UpsertStore(ctx, rec.Store)
	case KindList:
		return database.UpsertList(ctx, rec.List)
	case KindEntry:
		return database.UpsertEntry(ctx, rec.Entry)
	case KindFrequency:
		return database.UpsertFrequency(ctx, rec.Frequency)
	}
	return fmt.Errorf("unknown kind %q", rec.Kind)
}

// Backup writes a consistent copy of the database next to it and returns
// its path.
func Backup(ctx context.Context, database *db.DB) (string, error) {
	backupPath := database.Path() + ".backup." + time.Now().Format("20060102-150405")
	if _, err := database.RawDB().ExecContext(ctx, `VACUUM INTO ?`, backupPath); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return backupPath, nil
}
