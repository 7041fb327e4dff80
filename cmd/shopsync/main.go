// Command shopsync manages a shopping catalog on the primary device and keeps
// a companion device's copy of the lists in sync.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shopsmart/shopsync/internal/catalog"
	"github.com/shopsmart/shopsync/internal/config"
	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/logging"
	"github.com/shopsmart/shopsync/internal/schema"
	"github.com/shopsmart/shopsync/internal/ui"
)

// Global flags
var (
	configPath string
	dataDir    string
	noColor    bool
	verbose    bool
)

var (
	cfg  *config.Config
	logs *logging.Factory
)

var rootCmd = &cobra.Command{
	Use:   "shopsync",
	Short: "Shopping lists with a synced companion",
	Long: `shopsync keeps a catalog of stores and items, builds shopping lists that
learn how often you buy things, and mirrors the lists to a companion device.

The primary (shopsync serve) owns the data. A companion (shopsync companion)
receives every change and can tick entries off while offline; its toggles
are delivered when the primary is reachable again.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.DisableColor()
		}

		loaded, err := config.Load(configPath, dataDir)
		if err != nil {
			return err
		}
		cfg = loaded

		factory, err := logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
		})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		// One-shot commands stay quiet unless asked; long-running ones
		// override this in their own Run.
		if !verbose && cfg.Log.File == "" {
			factory = logging.Discard()
		}
		logs = factory
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "catalog", Title: "Catalog:"},
		&cobra.Group{ID: "lists", Title: "Shopping lists:"},
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "admin", Title: "Administration:"},
	)

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <data-dir>/shopsync.toml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Data directory (default: ~/.shopsync or $SHOPSYNC_DATA_DIR)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component activity to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// fatal prints an error and exits.
func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	if logs != nil {
		_ = logs.Close()
	}
	os.Exit(1)
}

// openCatalog opens the primary database and returns the catalog service.
// The caller must close the database.
func openCatalog() (*db.DB, *catalog.Service) {
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		fatal("opening database: %v", err)
	}
	if err := database.InitSchema(); err != nil {
		_ = database.Close()
		fatal("initializing schema: %v", err)
	}
	return database, catalog.New(database, logs.Logger("catalog"))
}

// findStore resolves a store by id or case-insensitive name.
func findStore(ctx context.Context, svc *catalog.Service, ref string) *schema.Store {
	if s, err := svc.DB().GetStore(ctx, ref); err == nil {
		return s
	}
	stores, err := svc.DB().ListStores(ctx)
	if err != nil {
		fatal("listing stores: %v", err)
	}
	for _, s := range stores {
		if strings.EqualFold(strings.TrimSpace(s.Name), strings.TrimSpace(ref)) {
			return s
		}
	}
	fatal("no store named %q", ref)
	return nil
}

// findItem resolves an item by id or case-insensitive name.
func findItem(ctx context.Context, svc *catalog.Service, ref string) *schema.Item {
	if it, err := svc.DB().GetItem(ctx, ref); err == nil {
		return it
	}
	items, err := svc.DB().ListItems(ctx)
	if err != nil {
		fatal("listing items: %v", err)
	}
	for _, it := range items {
		if strings.EqualFold(strings.TrimSpace(it.Name), strings.TrimSpace(ref)) {
			return it
		}
	}
	fatal("no item named %q", ref)
	return nil
}

// findEntry resolves an entry of a shelf-sorted list by 1-based position
// ("3" or "#3"), id, or item name.
func findEntry(entries []*schema.EntryView, ref string) *schema.EntryView {
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		if n < 1 || n > len(entries) {
			fatal("entry #%d out of range (list has %d)", n, len(entries))
		}
		return entries[n-1]
	}
	for _, e := range entries {
		if e.ID == ref || strings.EqualFold(e.DisplayName(), ref) {
			return e
		}
	}
	fatal("no entry %q on the list", ref)
	return nil
}

// currentList returns the store's list and its shelf-sorted entries, or
// exits if the store has no list.
func currentList(ctx context.Context, svc *catalog.Service, store *schema.Store) (*schema.ListView, []*schema.EntryView) {
	list, err := svc.ListForStore(ctx, store.ID)
	if err != nil {
		fatal("loading list: %v", err)
	}
	if list == nil {
		fatal("%s has no shopping list (create one with 'shopsync list build %q')", store.Name, store.Name)
	}
	entries, err := svc.Entries(ctx, list.ID)
	if err != nil {
		fatal("loading entries: %v", err)
	}
	return list, entries
}

func entryRows(entries []*schema.EntryView) []ui.Row {
	rows := make([]ui.Row, 0, len(entries))
	for i, e := range entries {
		rows = append(rows, ui.Row{
			Name:   e.DisplayName(),
			Brand:  e.Brand,
			Count:  e.Count,
			InCart: e.InCart,
			Note:   e.Note,
			Ref:    fmt.Sprintf("#%d", i+1),
		})
	}
	return rows
}
