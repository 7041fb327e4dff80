package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/shopsmart/shopsync/internal/catalog"
	"github.com/shopsmart/shopsync/internal/schema"
	"github.com/shopsmart/shopsync/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "lists",
	Short:   "Build and work through shopping lists",
	Long: `Each store has at most one shopping list. Entries are shown in the
store's shelf order (set with 'list reorder'); items without a position
come last, alphabetically.

Entries are referred to by their position as printed by 'list show'
("3" or "#3"), by item name, or by id.`,
}

var listBuildCmd = &cobra.Command{
	Use:   "build <store> [item[:count]]...",
	Short: "Create or update a store's list",
	Long: `Create the store's list, or replace the entries not yet in the cart.

Items already in the cart stay. With no items given in a terminal, the
store's catalog is offered most-bought first, with the open entries
preselected.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])

		var selections []catalog.Selection
		if len(args) > 1 {
			for _, arg := range args[1:] {
				selections = append(selections, parseSelection(ctx, svc, arg))
			}
		} else {
			if !ui.IsInteractive() {
				fatal("no items given")
			}
			selections = pickSelections(ctx, svc, store)
		}
		if len(selections) == 0 {
			fmt.Println(ui.RenderMuted("Nothing selected"))
			return
		}

		list, err := svc.BuildList(ctx, store.ID, selections)
		if err != nil {
			fatal("building list: %v", err)
		}
		entries, err := svc.Entries(ctx, list.ID)
		if err != nil {
			fatal("loading entries: %v", err)
		}
		fmt.Print(ui.RenderList(store.Name, list.CreatedAt.Local().Format("Mon Jan 2 15:04"), entryRows(entries)))
	},
}

// parseSelection parses "Milk" or "Milk:2".
func parseSelection(ctx context.Context, svc *catalog.Service, arg string) catalog.Selection {
	name, count := arg, 1
	if i := strings.LastIndex(arg, ":"); i > 0 {
		if n, err := strconv.Atoi(arg[i+1:]); err == nil {
			name, count = arg[:i], n
		}
	}
	if count < 1 {
		fatal("count for %s must be at least 1", name)
	}
	item := findItem(ctx, svc, name)
	return catalog.Selection{ItemID: item.ID, Count: count}
}

func pickSelections(ctx context.Context, svc *catalog.Service, store *schema.Store) []catalog.Selection {
	items, err := svc.StoreItems(ctx, store.ID)
	if err != nil {
		fatal("listing items: %v", err)
	}
	if len(items) == 0 {
		fatal("%s carries no items (add some with 'shopsync store assign')", store.Name)
	}
	pre, err := svc.Preselection(ctx, store.ID)
	if err != nil {
		fatal("loading current list: %v", err)
	}

	options := make([]huh.Option[string], 0, len(items))
	for _, it := range items {
		_, selected := pre[it.ID]
		options = append(options, huh.NewOption(it.Name, it.ID).Selected(selected))
	}

	var picked []string
	err = huh.NewMultiSelect[string]().
		Title("Shopping at " + store.Name).
		Options(options...).
		Value(&picked).
		Run()
	if err != nil {
		fatal("prompt: %v", err)
	}

	selections := make([]catalog.Selection, 0, len(picked))
	for _, id := range picked {
		if sel, ok := pre[id]; ok {
			selections = append(selections, sel)
			continue
		}
		selections = append(selections, catalog.Selection{ItemID: id, Count: 1})
	}
	return selections
}

var listShowCmd = &cobra.Command{
	Use:   "show [store]",
	Short: "Show one list, or every list",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		if len(args) == 1 {
			store := findStore(ctx, svc, args[0])
			list, entries := currentList(ctx, svc, store)
			fmt.Print(ui.RenderList(list.DisplayStoreName(), list.CreatedAt.Local().Format("Mon Jan 2 15:04"), entryRows(entries)))
			return
		}

		var since time.Time
		if s, _ := cmd.Flags().GetString("since"); s != "" {
			t, err := parseSince(s, time.Now())
			if err != nil {
				fatal("%v", err)
			}
			since = t
		}

		lists, err := database.ListLists(ctx)
		if err != nil {
			fatal("listing lists: %v", err)
		}
		shown := 0
		for _, l := range lists {
			if l.CreatedAt.Before(since) {
				continue
			}
			entries, err := svc.Entries(ctx, l.ID)
			if err != nil {
				fatal("loading entries: %v", err)
			}
			if shown > 0 {
				fmt.Println()
			}
			fmt.Print(ui.RenderList(l.DisplayStoreName(), l.CreatedAt.Local().Format("Mon Jan 2 15:04"), entryRows(entries)))
			shown++
		}
		if shown == 0 {
			fmt.Println(ui.RenderMuted("No shopping lists"))
		}
	},
}

// parseSince accepts natural phrases ("last week", "3 days ago",
// "yesterday") and plain dates (2006-01-02).
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --since %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand --since %q", s)
	}
	return r.Time, nil
}

var listToggleCmd = &cobra.Command{
	Use:   "toggle <store> <entry>...",
	Short: "Put entries in the cart, or take them out",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		list, entries := currentList(ctx, svc, store)

		for _, ref := range args[1:] {
			e := findEntry(entries, ref)
			inCart, err := svc.ToggleEntry(ctx, e.ID)
			if err != nil {
				fatal("toggling %s: %v", e.DisplayName(), err)
			}
			if inCart {
				fmt.Printf("%s %s\n", ui.RenderPass("[x]"), e.DisplayName())
			} else {
				fmt.Printf("[ ] %s\n", e.DisplayName())
			}
		}

		offerCompletion(ctx, svc, list)
	},
}

// offerCompletion asks to delete a list once everything is in the cart.
func offerCompletion(ctx context.Context, svc *catalog.Service, list *schema.ListView) {
	done, err := svc.IsComplete(ctx, list.ID)
	if err != nil || !done {
		return
	}
	fmt.Printf("%s Everything for %s is in the cart\n", ui.RenderPass("✓"), list.DisplayStoreName())
	if !ui.IsInteractive() {
		return
	}

	var remove bool
	err = huh.NewConfirm().
		Title("Delete the list?").
		Affirmative("Delete").
		Negative("Keep").
		Value(&remove).
		Run()
	if err != nil || !remove {
		return
	}
	if err := svc.DeleteList(ctx, list.ID); err != nil {
		fatal("deleting list: %v", err)
	}
	fmt.Println("List deleted")
}

var listAddCmd = &cobra.Command{
	Use:   "add <store> [item]...",
	Short: "Add catalog items to a store's list",
	Long: `Add items to the store's list with count 1. Items already on the list
are skipped. With no items, the store's items that are not on the list are
printed, most-bought first.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		list, _ := currentList(ctx, svc, store)

		if len(args) == 1 {
			candidates, err := svc.Candidates(ctx, list.ID)
			if err != nil {
				fatal("listing candidates: %v", err)
			}
			for _, it := range candidates {
				fmt.Println(it.Name)
			}
			return
		}

		ids := make([]string, 0, len(args)-1)
		for _, ref := range args[1:] {
			ids = append(ids, findItem(ctx, svc, ref).ID)
		}
		added, err := svc.AddFromStore(ctx, list.ID, ids)
		if err != nil {
			fatal("adding items: %v", err)
		}
		fmt.Printf("%s Added %d item(s)\n", ui.RenderPass("✓"), added)
	},
}

var listSetCmd = &cobra.Command{
	Use:   "set <store> <entry>",
	Short: "Change an entry's count or note",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		_, entries := currentList(ctx, svc, store)
		e := findEntry(entries, args[1])

		count, note := e.Count, e.Note
		if cmd.Flags().Changed("count") {
			count, _ = cmd.Flags().GetInt("count")
		}
		if cmd.Flags().Changed("note") {
			note, _ = cmd.Flags().GetString("note")
		}
		if err := svc.UpdateEntry(ctx, e.ID, count, note); err != nil {
			fatal("updating entry: %v", err)
		}
		fmt.Printf("%s %s x%d\n", ui.RenderPass("✓"), e.DisplayName(), count)
	},
}

var listDropCmd = &cobra.Command{
	Use:   "drop <store> <entry>...",
	Short: "Remove entries from a list",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		_, entries := currentList(ctx, svc, store)

		// Resolve every ref before deleting so positions stay valid.
		targets := make([]*schema.EntryView, 0, len(args)-1)
		for _, ref := range args[1:] {
			targets = append(targets, findEntry(entries, ref))
		}
		for _, e := range targets {
			if err := svc.DeleteEntry(ctx, e.ID); err != nil {
				fatal("removing %s: %v", e.DisplayName(), err)
			}
			fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), e.DisplayName())
		}
	},
}

var listReorderCmd = &cobra.Command{
	Use:   "reorder <store> <entry>...",
	Short: "Set the store's shelf order",
	Long: `Record the given entries, in order, as the store's shelf order. The
order is kept per store and applies to future lists too.`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		list, entries := currentList(ctx, svc, store)

		ids := make([]string, 0, len(args)-1)
		for _, ref := range args[1:] {
			ids = append(ids, findEntry(entries, ref).ID)
		}
		if err := svc.ReorderEntries(ctx, list.ID, ids); err != nil {
			fatal("reordering: %v", err)
		}

		entries, err := svc.Entries(ctx, list.ID)
		if err != nil {
			fatal("loading entries: %v", err)
		}
		fmt.Print(ui.RenderList(store.Name, "", entryRows(entries)))
	},
}

var listClearCmd = &cobra.Command{
	Use:   "clear-checked <store>",
	Short: "Remove every entry that is in the cart",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		list, _ := currentList(ctx, svc, store)
		removed, err := svc.RemoveChecked(ctx, list.ID)
		if err != nil {
			fatal("clearing: %v", err)
		}
		fmt.Printf("%s Removed %d entr%s\n", ui.RenderPass("✓"), removed, plural(removed, "y", "ies"))
	},
}

var listRemoveCmd = &cobra.Command{
	Use:   "rm <store>",
	Short: "Delete a store's list",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		list, _ := currentList(ctx, svc, store)
		if err := svc.DeleteList(ctx, list.ID); err != nil {
			fatal("deleting list: %v", err)
		}
		fmt.Fprintf(os.Stdout, "%s Deleted the %s list\n", ui.RenderPass("✓"), store.Name)
	},
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func init() {
	listShowCmd.Flags().String("since", "", `Only lists created after this ("last week", "2024-05-01")`)
	listSetCmd.Flags().Int("count", 1, "Quantity")
	listSetCmd.Flags().String("note", "", "Note for this entry")

	listCmd.AddCommand(listBuildCmd, listShowCmd, listToggleCmd, listAddCmd, listSetCmd,
		listDropCmd, listReorderCmd, listClearCmd, listRemoveCmd)
	rootCmd.AddCommand(listCmd)
}
