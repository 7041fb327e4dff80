package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/shopsmart/shopsync/internal/catalog"
	"github.com/shopsmart/shopsync/internal/channel"
	"github.com/shopsmart/shopsync/internal/imaging"
	"github.com/shopsmart/shopsync/internal/schema"
	"github.com/shopsmart/shopsync/internal/wire"
)

// Config holds coordinator configuration.
type Config struct {
	// Image controls payload thumbnails (default: 80px, quality 60).
	Image imaging.Options

	// Logger for coordinator activity (default: stderr logger).
	Logger *log.Logger
}

// coordinator implements the Coordinator interface.
type coordinator struct {
	catalog     *catalog.Service
	slot        *channel.Slot
	image       imaging.Options
	logger      *log.Logger
	unsubscribe func()

	// pushMu keeps build+put atomic so an older snapshot never lands in
	// the slot after a newer one.
	pushMu sync.Mutex
}

// New creates a Coordinator publishing into slot and subscribes it to
// svc's changes. Call Close to unsubscribe.
func New(svc *catalog.Service, slot *channel.Slot, config *Config) Coordinator {
	if config == nil {
		config = &Config{}
	}
	img := config.Image
	if img.MaxDimension <= 0 || img.Quality <= 0 {
		img = imaging.DefaultOptions()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[coordinator] ", log.LstdFlags)
	}

	c := &coordinator{
		catalog: svc,
		slot:    slot,
		image:   img,
		logger:  logger,
	}
	c.unsubscribe = svc.Subscribe(c.onChange)
	return c
}

func (c *coordinator) onChange(change catalog.Change) {
	if err := c.Push(context.Background()); err != nil {
		c.logger.Printf("WARNING: Push after %s %s %s failed: %v", change.Kind, change.Action, change.ID, err)
	}
}

// Close implements Coordinator.Close.
func (c *coordinator) Close() {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
}

// BuildSnapshot implements Coordinator.BuildSnapshot.
func (c *coordinator) BuildSnapshot(ctx context.Context) (*wire.Snapshot, error) {
	database := c.catalog.DB()

	lists, err := database.ListLists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list lists: %w", err)
	}

	snap := &wire.Snapshot{Lists: make([]wire.ListRecord, 0, len(lists))}
	for _, l := range lists {
		entries, err := c.catalog.Entries(ctx, l.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load entries of list %s: %w", l.ID, err)
		}

		rec := wire.ListRecord{
			ID:        l.ID,
			StoreName: l.DisplayStoreName(),
			Date:      wire.UnixSeconds(l.CreatedAt),
			Entries:   make([]wire.EntryRecord, 0, len(entries)),
		}
		for _, e := range entries {
			rec.Entries = append(rec.Entries, c.entryRecord(e))
		}
		snap.Lists = append(snap.Lists, rec)
	}
	return snap, nil
}

func (c *coordinator) entryRecord(e *schema.EntryView) wire.EntryRecord {
	rec := wire.EntryRecord{
		ID:       e.ID,
		ItemID:   e.ItemID,
		ItemName: e.DisplayName(),
		Count:    e.Count,
		InCart:   e.InCart,
		Brand:    e.Brand,
		Notes:    e.Note,
	}
	if len(e.Image) > 0 {
		thumb, err := imaging.Thumbnail(e.Image, c.image)
		if err != nil {
			c.logger.Printf("Omitting image of item %s: %v", e.ItemID, err)
		} else {
			rec.ImageData = thumb
		}
	}
	return rec
}

// Push implements Coordinator.Push.
func (c *coordinator) Push(ctx context.Context) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	snap, err := c.BuildSnapshot(ctx)
	if err != nil {
		return err
	}
	data, err := wire.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	c.slot.Put(data)
	return nil
}

// HandleInbound implements Coordinator.HandleInbound.
func (c *coordinator) HandleInbound(ctx context.Context, payload []byte) {
	intent, err := wire.DecodeToggle(payload)
	if err != nil {
		c.logger.Printf("Ignoring inbound payload: %v", err)
		return
	}

	var changed bool
	if intent.InCart != nil {
		changed, err = c.catalog.SetInCart(ctx, intent.EntryID, *intent.InCart)
	} else {
		_, err = c.catalog.ToggleEntry(ctx, intent.EntryID)
		changed = true
	}
	if errors.Is(err, schema.ErrNotFound) {
		c.logger.Printf("Ignoring toggle for unknown entry %s", intent.EntryID)
		return
	}
	if err != nil {
		c.logger.Printf("WARNING: Failed to apply toggle for %s: %v", intent.EntryID, err)
		return
	}

	// A repeated intent changes nothing, but the sender may still be
	// waiting for a snapshot that confirms it.
	if !changed {
		if err := c.Push(ctx); err != nil {
			c.logger.Printf("WARNING: Push failed: %v", err)
		}
	}
}
