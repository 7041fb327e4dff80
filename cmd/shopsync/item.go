package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/shopsmart/shopsync/internal/catalog"
	"github.com/shopsmart/shopsync/internal/schema"
	"github.com/shopsmart/shopsync/internal/ui"
)

const createNewChoice = "\x00new"

var itemCmd = &cobra.Command{
	Use:     "item",
	GroupID: "catalog",
	Short:   "Manage catalog items",
}

var itemAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an item to the catalog",
	Long: `Add an item to the catalog, optionally assigning it to a store.

Names close to an existing item ("Tomato" vs "tomatoes") are flagged. In a
terminal you are asked whether to reuse the existing item; otherwise the
command stops unless --force is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		brand, _ := cmd.Flags().GetString("brand")
		notes, _ := cmd.Flags().GetString("notes")
		imagePath, _ := cmd.Flags().GetString("image")
		storeRef, _ := cmd.Flags().GetString("store")
		force, _ := cmd.Flags().GetBool("force")

		var store *schema.Store
		if storeRef != "" {
			store = findStore(ctx, svc, storeRef)
		}

		item := chooseExisting(ctx, svc, args[0], force)
		if item == nil {
			item = &schema.Item{Name: args[0], Brand: brand, Notes: notes}
			if imagePath != "" {
				// #nosec G304 - controlled path from CLI
				data, err := os.ReadFile(imagePath)
				if err != nil {
					fatal("reading image: %v", err)
				}
				item.Image = data
			}
			if err := svc.CreateItem(ctx, item); err != nil {
				fatal("creating item: %v", err)
			}
			fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), item.Name)
		}

		if store != nil {
			if err := svc.AssignItem(ctx, store.ID, item.ID); err != nil {
				fatal("assigning to %s: %v", store.Name, err)
			}
			fmt.Printf("   %s carries %s\n", store.Name, item.Name)
		}
	},
}

// chooseExisting checks name against the catalog and returns the existing
// item the user picked, or nil to create a new one.
func chooseExisting(ctx context.Context, svc *catalog.Service, name string, force bool) *schema.Item {
	similar, err := svc.CheckName(ctx, name)
	if err != nil {
		fatal("checking name: %v", err)
	}
	if len(similar) == 0 || force {
		return nil
	}

	if !ui.IsInteractive() {
		fmt.Fprintf(os.Stderr, "%s %q looks like an existing item:\n", ui.RenderWarn("⚠"), name)
		for _, it := range similar {
			fmt.Fprintf(os.Stderr, "   %s\n", it.Name)
		}
		fatal("use --force to add it anyway")
	}

	options := make([]huh.Option[string], 0, len(similar)+1)
	for _, it := range similar {
		options = append(options, huh.NewOption("Use existing "+it.Name, it.ID))
	}
	options = append(options, huh.NewOption(fmt.Sprintf("Create %q anyway", name), createNewChoice))

	var choice string
	err = huh.NewSelect[string]().
		Title(fmt.Sprintf("%q is similar to an existing item", name)).
		Options(options...).
		Value(&choice).
		Run()
	if err != nil {
		fatal("prompt: %v", err)
	}
	if choice == createNewChoice {
		return nil
	}
	for _, it := range similar {
		if it.ID == choice {
			return it
		}
	}
	return nil
}

var itemListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List catalog items",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, _ := openCatalog()
		defer database.Close()

		items, err := database.ListItems(ctx)
		if err != nil {
			fatal("listing items: %v", err)
		}
		for _, it := range items {
			line := it.Name
			if it.Brand != "" {
				line += " " + ui.RenderMuted("("+it.Brand+")")
			}
			stores, err := database.StoresForItem(ctx, it.ID)
			if err == nil && len(stores) == 0 {
				line += "  " + ui.RenderWarn("no store")
			}
			fmt.Println(line)
		}
	},
}

var itemEditCmd = &cobra.Command{
	Use:   "edit <item>",
	Short: "Change an item's name, brand, notes or image",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		item := findItem(ctx, svc, args[0])
		if cmd.Flags().Changed("name") {
			item.Name, _ = cmd.Flags().GetString("name")
		}
		if cmd.Flags().Changed("brand") {
			item.Brand, _ = cmd.Flags().GetString("brand")
		}
		if cmd.Flags().Changed("notes") {
			item.Notes, _ = cmd.Flags().GetString("notes")
		}
		if cmd.Flags().Changed("image") {
			path, _ := cmd.Flags().GetString("image")
			item.Image = nil
			if path != "" {
				// #nosec G304 - controlled path from CLI
				data, err := os.ReadFile(path)
				if err != nil {
					fatal("reading image: %v", err)
				}
				item.Image = data
			}
		}
		if err := svc.UpdateItem(ctx, item); err != nil {
			fatal("updating item: %v", err)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), item.Name)
	},
}

var itemRemoveCmd = &cobra.Command{
	Use:   "rm <item>",
	Short: "Delete an item (list entries keep a placeholder)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		item := findItem(ctx, svc, args[0])
		if err := svc.DeleteItem(ctx, item.ID); err != nil {
			fatal("deleting item: %v", err)
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), item.Name)
	},
}

var similarCmd = &cobra.Command{
	Use:     "similar <name>",
	GroupID: "catalog",
	Short:   "Show catalog items a name would duplicate",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, svc := openCatalog()
		defer database.Close()

		similar, err := svc.CheckName(ctx, args[0])
		if err != nil {
			fatal("checking name: %v", err)
		}
		if len(similar) == 0 {
			fmt.Printf("%s No similar items\n", ui.RenderPass("✓"))
			return
		}
		for _, it := range similar {
			fmt.Printf("%s %s\n", ui.RenderWarn("⚠"), it.Name)
		}
	},
}

func init() {
	itemAddCmd.Flags().String("brand", "", "Brand")
	itemAddCmd.Flags().String("notes", "", "Free-form notes")
	itemAddCmd.Flags().String("image", "", "Path to a product photo")
	itemAddCmd.Flags().String("store", "", "Also add to this store's catalog")
	itemAddCmd.Flags().Bool("force", false, "Add even if a similar item exists")

	itemEditCmd.Flags().String("name", "", "New name")
	itemEditCmd.Flags().String("brand", "", "Brand")
	itemEditCmd.Flags().String("notes", "", "Free-form notes")
	itemEditCmd.Flags().String("image", "", "Path to a product photo (empty removes it)")

	itemCmd.AddCommand(itemAddCmd, itemListCmd, itemEditCmd, itemRemoveCmd)
	rootCmd.AddCommand(itemCmd, similarCmd)
}
