package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/shopsmart/shopsync/internal/channel"
	"github.com/shopsmart/shopsync/internal/coordinator"
	"github.com/shopsmart/shopsync/internal/daemon"
	"github.com/shopsmart/shopsync/internal/imaging"
	"github.com/shopsmart/shopsync/internal/logging"
	"github.com/shopsmart/shopsync/internal/transport"
	"github.com/shopsmart/shopsync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the primary's sync endpoint",
	Long: `Serve the lists to companions over a websocket at /sync.

Every change made through shopsync (in this process or another one writing
the same database) is pushed as a fresh snapshot. Toggles sent by a
companion are applied to the catalog and answered with a new snapshot.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if !verbose && cfg.Log.File == "" {
			// Long-running: log to stderr even without -v.
			factory, err := logging.New(logging.Options{})
			if err != nil {
				fatal("setting up logging: %v", err)
			}
			logs = factory
		}
		logger := logs.Logger("serve")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
		defer stop()

		database, svc := openCatalog()
		defer database.Close()

		slot := channel.NewSlot()
		coord := coordinator.New(svc, slot, &coordinator.Config{
			Image: imaging.Options{
				MaxDimension: cfg.Image.MaxDimension,
				Quality:      cfg.Image.Quality,
			},
			Logger: logs.Logger("coordinator"),
		})
		defer coord.Close()

		addr, _ := cmd.Flags().GetString("listen")
		if addr == "" {
			addr = cfg.Listen
		}
		srv := transport.NewServer(slot, coord.HandleInbound, &transport.ServerConfig{
			Addr:   addr,
			Logger: logs.Logger("transport"),
		})
		if err := srv.Start(); err != nil {
			fatal("starting server: %v", err)
		}

		d, err := daemon.NewWithConfig(coord, cfg.DBPath, &daemon.Config{
			DebounceInterval: cfg.DebounceInterval,
			Logger:           logs.Logger("daemon"),
		})
		if err != nil {
			_ = srv.Stop()
			fatal("creating watcher: %v", err)
		}

		daemonErr := make(chan error, 1)
		go func() {
			daemonErr <- d.Start(ctx)
		}()

		fmt.Printf("%s Serving %s on ws://%s%s\n", ui.RenderPass("✓"), cfg.DBPath, srv.GetAddr(), transport.SyncPath)
		fmt.Println(ui.RenderMuted("Press Ctrl+C to stop"))

		select {
		case <-ctx.Done():
			logger.Printf("Shutting down")
		case err := <-daemonErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("Watcher stopped: %v", err)
			}
		}

		_ = d.Stop()
		if err := srv.Stop(); err != nil {
			logger.Printf("Server shutdown: %v", err)
		}
		select {
		case <-daemonErr:
		case <-time.After(2 * time.Second):
		}
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Address to listen on (default from config, :7420)")
	rootCmd.AddCommand(serveCmd)
}
