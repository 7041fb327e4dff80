package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shopsmart/shopsync/internal/migrate"
	"github.com/shopsmart/shopsync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "admin",
	Short:   "Export the catalog and lists",
	Long: `Export everything to JSONL (one record per line, re-importable with
'shopsync import') or to a YAML summary for reading. YAML leaves out item
images.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, _ := openCatalog()
		defer database.Close()

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		switch format {
		case "jsonl":
			if output == "" {
				if _, err := migrate.Export(ctx, database, os.Stdout); err != nil {
					fatal("%v", err)
				}
				return
			}
			result, err := migrate.ExportFile(ctx, database, output)
			if err != nil {
				fatal("%v", err)
			}
			fmt.Fprintf(os.Stderr, "%s Exported %d records to %s\n", ui.RenderPass("✓"), result.Total(), output)
		case "yaml":
			w := os.Stdout
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					fatal("creating %s: %v", output, err)
				}
				defer f.Close()
				w = f
			}
			if err := migrate.ExportYAML(ctx, database, w); err != nil {
				fatal("%v", err)
			}
		default:
			fatal("unknown format %q (want jsonl or yaml)", format)
		}
	},
}

var importCmd = &cobra.Command{
	Use:     "import <file.jsonl>",
	GroupID: "admin",
	Short:   "Import a JSONL export",
	Long: `Replay a JSONL export into the database. Records are upserted by id, so
importing the same file twice changes nothing. A running 'shopsync serve'
picks the changes up and pushes them to companions.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, _ := openCatalog()
		defer database.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")

		result, err := migrate.Import(ctx, database, migrate.ImportOptions{
			FromJSONL: args[0],
			DryRun:    dryRun,
			Backup:    backup,
		})
		if err != nil {
			fatal("%v", err)
		}

		if result.BackupCreated != "" {
			fmt.Printf("%s Backup: %s\n", ui.RenderAccent("→"), result.BackupCreated)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d items, %d stores, %d lists, %d entries, %d frequencies\n",
			ui.RenderPass("✓"), verb, result.Items, result.Stores, result.Lists, result.Entries, result.Frequencies)
		for _, e := range result.Errors {
			fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("⚠"), e)
		}
		if len(result.Errors) > 0 {
			fatal("%d record(s) failed", len(result.Errors))
		}
	},
}

var statsCmd = &cobra.Command{
	Use:     "stats",
	GroupID: "admin",
	Short:   "Show database row counts",
	Args:    cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		database, _ := openCatalog()
		defer database.Close()

		s, err := database.GetStats(ctx)
		if err != nil {
			fatal("%v", err)
		}
		fmt.Println(ui.RenderHeader(database.Path()))
		fmt.Printf("  Stores:      %d\n", s.Stores)
		fmt.Printf("  Items:       %d\n", s.Items)
		fmt.Printf("  Lists:       %d\n", s.Lists)
		fmt.Printf("  Entries:     %d\n", s.Entries)
		fmt.Printf("  Frequencies: %d\n", s.Frequencies)
	},
}

func init() {
	exportCmd.Flags().String("format", "jsonl", "Output format: jsonl or yaml")
	exportCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")
	importCmd.Flags().Bool("dry-run", false, "Parse and count without writing")
	importCmd.Flags().Bool("backup", false, "Back up the database first")

	rootCmd.AddCommand(exportCmd, importCmd, statsCmd)
}
