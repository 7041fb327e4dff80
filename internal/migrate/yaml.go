package migrate

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/shopsmart/shopsync/internal/db"
)

// Document is the human-readable export. Lists carry their store name and
// entries their item name, resolved the same way the UI resolves them.
// Images are not exported.
type Document struct {
	Stores []yamlStore `yaml:"stores"`
	Items  []yamlItem  `yaml:"items"`
	Lists  []yamlList  `yaml:"lists"`
}

type yamlStore struct {
	ID      string   `yaml:"id"`
	Name    string   `yaml:"name"`
	Notes   string   `yaml:"notes,omitempty"`
	Website string   `yaml:"website,omitempty"`
	Items   []string `yaml:"items,omitempty"`
}

type yamlItem struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Brand    string `yaml:"brand,omitempty"`
	Notes    string `yaml:"notes,omitempty"`
	HasImage bool   `yaml:"has_image,omitempty"`
}

type yamlList struct {
	ID      string      `yaml:"id"`
	Store   string      `yaml:"store"`
	Created string      `yaml:"created"`
	Entries []yamlEntry `yaml:"entries"`
}

type yamlEntry struct {
	Item   string `yaml:"item"`
	Count  int    `yaml:"count"`
	InCart bool   `yaml:"in_cart"`
	Note   string `yaml:"note,omitempty"`
}

// BuildDocument reads the whole catalog into a Document.
func BuildDocument(ctx context.Context, database *db.DB) (*Document, error) {
	doc := &Document{}

	items, err := database.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	names := make(map[string]string, len(items))
	for _, it := range items {
		names[it.ID] = it.Name
		doc.Items = append(doc.Items, yamlItem{
			ID:       it.ID,
			Name:     it.Name,
			Brand:    it.Brand,
			Notes:    it.Notes,
			HasImage: len(it.Image) > 0,
		})
	}

	stores, err := database.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	for _, s := range stores {
		ys := yamlStore{ID: s.ID, Name: s.Name, Notes: s.Notes, Website: s.WebsiteURL}
		for _, id := range s.ItemIDs {
			ys.Items = append(ys.Items, names[id])
		}
		doc.Stores = append(doc.Stores, ys)
	}

	lists, err := database.ListLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}
	for _, l := range lists {
		entries, err := database.EntriesForList(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list entries of %s: %w", l.ID, err)
		}
		yl := yamlList{
			ID:      l.ID,
			Store:   l.DisplayStoreName(),
			Created: l.CreatedAt.Format("2006-01-02 15:04"),
			Entries: make([]yamlEntry, 0, len(entries)),
		}
		for _, e := range entries {
			yl.Entries = append(yl.Entries, yamlEntry{
				Item:   e.DisplayName(),
				Count:  e.Count,
				InCart: e.InCart,
				Note:   e.Note,
			})
		}
		doc.Lists = append(doc.Lists, yl)
	}

	return doc, nil
}

// ExportYAML writes the catalog as YAML to w.
func ExportYAML(ctx context.Context, database *db.DB, w io.Writer) error {
	doc, err := BuildDocument(ctx, database)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}
	return enc.Close()
}
