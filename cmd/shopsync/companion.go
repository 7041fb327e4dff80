package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/shopsmart/shopsync/internal/channel"
	"github.com/shopsmart/shopsync/internal/db"
	"github.com/shopsmart/shopsync/internal/replica"
	"github.com/shopsmart/shopsync/internal/transport"
	"github.com/shopsmart/shopsync/internal/ui"
	"github.com/shopsmart/shopsync/internal/wire"
)

var companionCmd = &cobra.Command{
	Use:     "companion",
	GroupID: "sync",
	Short:   "Work with the companion's copy of the lists",
	Long: `The companion keeps the last context received from the primary in
<data-dir>/companion.db, so lists can be shown and ticked off while the
primary is out of reach. Toggles made offline wait in an outbox and are
delivered, oldest first, on the next connection.`,
}

// companionSide is the companion's wiring: outbox and context in a local
// database, a websocket client, the delivery channel and the replica.
type companionSide struct {
	store   *db.DB
	client  *transport.Client
	channel *channel.Channel
	replica *replica.Replica
}

func openCompanion(ctx context.Context) *companionSide {
	store, err := db.Open(filepath.Join(cfg.DataDir, "companion.db"))
	if err != nil {
		fatal("opening companion database: %v", err)
	}
	queue, err := channel.NewQueue(ctx, store.RawDB())
	if err != nil {
		_ = store.Close()
		fatal("%v", err)
	}
	contexts, err := channel.NewContextStore(ctx, store.RawDB())
	if err != nil {
		_ = store.Close()
		fatal("%v", err)
	}

	url, _ := companionCmd.PersistentFlags().GetString("peer")
	if url == "" {
		url = cfg.PeerURL
	}

	c := &companionSide{store: store}
	c.client = transport.NewClient(&transport.ClientConfig{
		URL:               url,
		ReconnectInterval: cfg.ReconnectInterval,
		OnContext:         func(p []byte) { c.replica.ApplyContext(context.Background(), p) },
		OnConnect:         func() { c.channel.Notify() },
		Logger:            logs.Logger("transport"),
	})
	c.channel = channel.New(c.client, queue, &channel.Config{
		AckTimeout:    cfg.AckTimeout,
		FlushInterval: cfg.FlushInterval,
		Logger:        logs.Logger("channel"),
	})
	c.replica = replica.New(c.channel, contexts, logs.Logger("replica"))

	if _, err := c.replica.RestoreFromLastKnownContext(ctx); err != nil {
		_ = store.Close()
		fatal("restoring last context: %v", err)
	}
	return c
}

func (c *companionSide) Close() {
	_ = c.store.Close()
}

// selectList picks the list for storeName, or the first list.
func (c *companionSide) selectList(storeName string) *wire.ListRecord {
	lists := c.replica.Lists()
	if storeName == "" {
		if len(lists) == 0 {
			return nil
		}
		return &lists[0]
	}
	for i := range lists {
		if strings.EqualFold(lists[i].StoreName, storeName) {
			return &lists[i]
		}
	}
	return nil
}

func (c *companionSide) render(list *wire.ListRecord) string {
	if list == nil {
		switch c.replica.State() {
		case replica.StateEmpty:
			return ui.RenderMuted("Waiting for the primary...") + "\n"
		default:
			return ui.RenderMuted("No shopping lists") + "\n"
		}
	}

	pending := make(map[string]bool)
	for _, id := range c.replica.Pending() {
		pending[id] = true
	}
	rows := make([]ui.Row, 0, len(list.Entries))
	for i, e := range list.Entries {
		rows = append(rows, ui.Row{
			Name:    e.ItemName,
			Brand:   e.Brand,
			Count:   e.Count,
			InCart:  e.InCart,
			Note:    e.Notes,
			Pending: pending[e.ID],
			Ref:     fmt.Sprintf("#%d", i+1),
		})
	}
	name := list.StoreName
	if name == "" {
		name = "Unknown store"
	}
	return ui.RenderList(name, list.CreatedAt().Local().Format("Mon Jan 2 15:04"), rows)
}

func (c *companionSide) status() string {
	link := ui.RenderFail("offline")
	if c.client.Reachable() {
		link = ui.RenderPass("connected")
	}
	return fmt.Sprintf("%s  %s", link, ui.RenderMuted(c.replica.State().String()))
}

// resolveEntry finds an entry by position ("3", "#3"), id or item name.
func resolveEntry(list *wire.ListRecord, ref string) (*wire.EntryRecord, error) {
	if n, err := strconv.Atoi(strings.TrimPrefix(ref, "#")); err == nil {
		if n < 1 || n > len(list.Entries) {
			return nil, fmt.Errorf("entry #%d out of range (list has %d)", n, len(list.Entries))
		}
		return &list.Entries[n-1], nil
	}
	for i := range list.Entries {
		e := &list.Entries[i]
		if e.ID == ref || strings.EqualFold(e.ItemName, ref) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no entry %q on the list", ref)
}

var companionRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Show a list live and tick entries off",
	Long: `Connect to the primary and show one list, redrawn on every change.

Type an entry number and Enter to put it in the cart or take it out,
"q" to quit. Entries marked * are waiting for the primary to confirm.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
		defer stop()

		c := openCompanion(ctx)
		defer c.Close()

		storeName, _ := cmd.Flags().GetString("list")
		out := termenv.NewOutput(os.Stdout)

		var drawMu sync.Mutex
		draw := func() {
			drawMu.Lock()
			defer drawMu.Unlock()
			if ui.IsTerminal() {
				out.ClearScreen()
			}
			fmt.Fprint(out, c.render(c.selectList(storeName)))
			fmt.Fprintf(out, "\n%s\n> ", c.status())
		}
		c.replica.OnChange(draw)

		go c.client.Run(ctx)
		go c.channel.Run(ctx)
		draw()

		lines := make(chan string)
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- strings.TrimSpace(scanner.Text())
			}
			close(lines)
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok || line == "q" || line == "quit" {
					return
				}
				if line == "" {
					draw()
					continue
				}
				list := c.selectList(storeName)
				if list == nil {
					draw()
					continue
				}
				e, err := resolveEntry(list, line)
				if err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("⚠"), err)
					continue
				}
				if _, err := c.replica.ToggleLocally(ctx, e.ID, list.ID); err != nil {
					fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("✗"), err)
				}
			}
		}
	},
}

var companionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the last received lists without connecting",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		c := openCompanion(ctx)
		defer c.Close()

		storeName, _ := cmd.Flags().GetString("list")
		if storeName != "" {
			list := c.selectList(storeName)
			if list == nil {
				fatal("no list for %q in the last context", storeName)
			}
			fmt.Print(c.render(list))
		} else {
			lists := c.replica.Lists()
			if len(lists) == 0 {
				fmt.Print(c.render(nil))
			}
			for i := range lists {
				if i > 0 {
					fmt.Println()
				}
				fmt.Print(c.render(&lists[i]))
			}
		}

		queued, err := c.channel.Pending(ctx)
		if err == nil && queued > 0 {
			fmt.Printf("\n%s %d toggle(s) waiting for the primary\n", ui.RenderWarn("⚠"), queued)
		}
	},
}

var companionToggleCmd = &cobra.Command{
	Use:   "toggle <entry>",
	Short: "Tick an entry off, online or not",
	Long: `Toggle one entry of the selected list (--list, default the first).

The change is applied to the local copy at once. If the primary answers
within a few seconds it is delivered straight away; otherwise it waits in
the outbox for the next 'companion run' or 'companion toggle'.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
		defer stop()

		c := openCompanion(ctx)
		defer c.Close()

		wait, _ := cmd.Flags().GetDuration("wait")
		storeName, _ := cmd.Flags().GetString("list")

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go c.client.Run(runCtx)

		deadline := time.Now().Add(wait)
		for !c.client.Reachable() && time.Now().Before(deadline) {
			time.Sleep(50 * time.Millisecond)
		}
		if c.client.Reachable() {
			// Older queued toggles go first.
			if _, err := c.channel.Flush(ctx); err != nil {
				logs.Logger("companion").Printf("Flush: %v", err)
			}
			for c.replica.State() == replica.StateEmpty && time.Now().Before(deadline) {
				time.Sleep(50 * time.Millisecond)
			}
		}

		list := c.selectList(storeName)
		if list == nil {
			fatal("no list to toggle (the primary has not been reached yet)")
		}
		e, err := resolveEntry(list, args[0])
		if err != nil {
			fatal("%v", err)
		}
		inCart, err := c.replica.ToggleLocally(ctx, e.ID, list.ID)
		if err != nil {
			fatal("%v", err)
		}

		// Give the primary a moment to confirm with a fresh snapshot.
		confirm := time.Now().Add(cfg.AckTimeout)
		for c.replica.State() == replica.StatePendingLocal && c.client.Reachable() && time.Now().Before(confirm) {
			time.Sleep(50 * time.Millisecond)
		}

		mark := "[ ]"
		if inCart {
			mark = ui.RenderPass("[x]")
		}
		fmt.Printf("%s %s\n", mark, e.ItemName)

		queued, err := c.channel.Pending(ctx)
		if err == nil && queued > 0 {
			fmt.Printf("%s Primary unreachable, %d toggle(s) queued\n", ui.RenderWarn("⚠"), queued)
		} else if c.replica.State() == replica.StateSynced {
			fmt.Println(ui.RenderMuted("Confirmed by the primary"))
		}
	},
}

func init() {
	companionCmd.PersistentFlags().String("peer", "", "Primary sync URL (default from config)")
	companionCmd.PersistentFlags().String("list", "", "Store whose list to use (default: the first)")
	companionToggleCmd.Flags().Duration("wait", 3*time.Second, "How long to try reaching the primary")

	companionCmd.AddCommand(companionRunCmd, companionShowCmd, companionToggleCmd)
	rootCmd.AddCommand(companionCmd)
}
