package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopsmart/shopsync/internal/schema"
	"github.com/shopsmart/shopsync/internal/ui"
)

var storeCmd = &cobra.Command{
	Use:     "store",
	GroupID: "catalog",
	Short:   "Manage stores",
}

var storeAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a store",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		notes, _ := cmd.Flags().GetString("notes")
		website, _ := cmd.Flags().GetString("website")

		store := &schema.Store{Name: args[0], Notes: notes, WebsiteURL: website}
		if err := svc.CreateStore(ctx, store); err != nil {
			fatal("creating store: %v", err)
		}
		fmt.Printf("%s Added store %s\n", ui.RenderPass("✓"), store.Name)
	},
}

var storeListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List stores",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		stores, err := database.ListStores(ctx)
		if err != nil {
			fatal("listing stores: %v", err)
		}
		if len(stores) == 0 {
			fmt.Println(ui.RenderMuted("No stores yet. Add one with 'shopsync store add <name>'."))
			return
		}
		for _, s := range stores {
			line := fmt.Sprintf("%s  %s", ui.RenderHeader(s.Name), ui.RenderMuted(fmt.Sprintf("%d items", len(s.ItemIDs))))
			if list, err := svc.ListForStore(ctx, s.ID); err == nil && list != nil {
				line += "  " + ui.RenderAccent("list open")
			}
			if s.WebsiteURL != "" {
				line += "  " + ui.RenderMuted(s.WebsiteURL)
			}
			fmt.Println(line)
		}
	},
}

var storeEditCmd = &cobra.Command{
	Use:   "edit <store>",
	Short: "Change a store's name, notes or website",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		if cmd.Flags().Changed("name") {
			store.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("notes") {
			store.Notes, _ = cmd.Flags().GetString("notes")
		}
		if cmd.Flags().Changed("website") {
			store.WebsiteURL, _ = cmd.Flags().GetString("website")
		}
		if err := svc.UpdateStore(ctx, store); err != nil {
			fatal("updating store: %v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), store.Name)
	},
}

var storeRemoveCmd = &cobra.Command{
	Use:   "rm <store>",
	Short: "Delete a store (its list is kept)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		if err := svc.DeleteStore(ctx, store.ID); err != nil {
			fatal("deleting store: %v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), store.Name)
	},
}

var storeItemsCmd = &cobra.Command{
	Use:   "items <store>",
	Short: "Show a store's items, most often bought first",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		items, err := svc.StoreItems(ctx, store.ID)
		if err != nil {
			fatal("listing items: %v", err)
		}
		counts, err := svc.Ledger().Counts(ctx, store.ID)
		if err != nil {
			fatal("loading frequencies: %v", err)
		}

		fmt.Println(ui.RenderHeader(store.Name))
		for _, it := range items {
			fmt.Printf("  %s  %s\n", it.Name, ui.RenderMuted(fmt.Sprintf("bought %d×", counts[it.ID])))
		}
	},
}

var storeAssignCmd = &cobra.Command{
	Use:   "assign <store> <item>...",
	Short: "Add items to a store's catalog",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		for _, ref := range args[1:] {
			item := findItem(ctx, svc, ref)
			if err := svc.AssignItem(ctx, store.ID, item.ID); err != nil {
				fatal("assigning %s: %v", item.Name, err)
			}
			fmt.Printf("%s %s now carries %s\n", ui.RenderPass("✓"), store.Name, item.Name)
		}
	},
}

var storeUnassignCmd = &cobra.Command{
	Use:   "unassign <store> <item>...",
	Short: "Remove items from a store's catalog",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		store := findStore(ctx, svc, args[0])
		for _, ref := range args[1:] {
			item := findItem(ctx, svc, ref)
			if err := svc.UnassignItem(ctx, store.ID, item.ID); err != nil {
				fatal("unassigning %s: %v", item.Name, err)
			}
		}
	},
}

func init() {
	storeAddCmd.Flags().String("notes", "", "Free-form notes")
	storeAddCmd.Flags().String("website", "", "Store website")
	storeEditCmd.Flags().String("name", "", "New name")
	storeEditCmd.Flags().String("notes", "", "Free-form notes")
	storeEditCmd.Flags().String("website", "", "Store website")

	storeCmd.AddCommand(storeAddCmd, storeListCmd, storeEditCmd, storeRemoveCmd,
		storeItemsCmd, storeAssignCmd, storeUnassignCmd)
	rootCmd.AddCommand(storeCmd)
}
