// Package daemon keeps the primary's published snapshot current when the
// database is changed by another process.
//
// Mutations made through the catalog service inside the serving process
// push on their own. A `shopsync list toggle` run from a second terminal
// writes the same SQLite file but cannot reach that process's coordinator,
// so the daemon watches the data directory and schedules a push once the
// writes settle.
//
// The daemon:
//  1. Pushes once on start so the slot is populated before any peer connects
//  2. Watches the database file and its WAL for writes
//  3. Debounces bursts of writes into a single push
//  4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Pusher republishes the current snapshot. coordinator.Coordinator
// implements it.
type Pusher interface {
	Push(ctx context.Context) error
}

// Config holds configuration for the daemon.
type Config struct {
	// DebounceInterval is how long the database must be quiet before a
	// push is scheduled. This batches the several writes of one commit.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DebounceInterval: 250 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon watches the database and pushes snapshots after external writes.
type Daemon struct {
	pusher Pusher
	dbPath string
	config *Config

	watcher *DBWatcher

	changeMu   sync.Mutex
	lastChange time.Time // zero when nothing is queued

	pushes int64 // guarded by changeMu

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New creates a daemon with default configuration.
func New(pusher Pusher, dbPath string) (*Daemon, error) {
	return NewWithConfig(pusher, dbPath, DefaultConfig())
}

// NewWithConfig creates a daemon with custom configuration.
func NewWithConfig(pusher Pusher, dbPath string, config *Config) (*Daemon, error) {
	if pusher == nil {
		return nil, fmt.Errorf("pusher cannot be nil")
	}
	if dbPath == "" {
		return nil, fmt.Errorf("dbPath cannot be empty")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = DefaultConfig().Logger
	}

	watcher, err := NewDBWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		pusher:  pusher,
		dbPath:  dbPath,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start pushes once, then watches for changes until ctx is cancelled or
// Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.push(); err != nil {
		return fmt.Errorf("initial push failed: %w", err)
	}

	if err := d.watcher.Start(d.dbPath); err != nil {
		return err
	}
	d.config.Logger.Printf("Watching: %s", d.dbPath)

	d.wg.Add(2)
	go d.watchFileEvents()
	go d.processChangeQueue()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. It is safe to call more than once.
func (d *Daemon) Stop() error {
	d.once.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()
		if err := d.watcher.Stop(); err != nil {
			d.config.Logger.Printf("Error closing watcher: %v", err)
		}
		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// Pushes returns how many pushes the daemon has made, including the
// initial one.
func (d *Daemon) Pushes() int64 {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()
	return d.pushes
}

// watchFileEvents monitors filesystem events and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	touches, errs := d.watcher.Touches(), d.watcher.Errors()
	for {
		select {
		case <-d.ctx.Done():
			return

		case touch, ok := <-touches:
			if !ok {
				return
			}
			d.config.Logger.Printf("Database %s: %s %s", touch.Part, touch.Op, touch.Path)
			d.queueChange()

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func (d *Daemon) queueChange() {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()
	d.lastChange = time.Now()
}

// processChangeQueue pushes once the queued change has been quiet for a
// full debounce interval.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval / 2)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if !d.settled(time.Now()) {
				continue
			}
			if err := d.push(); err != nil {
				d.config.Logger.Printf("Error pushing snapshot: %v", err)
			}
		}
	}
}

// settled reports whether a queued change is due and dequeues it.
func (d *Daemon) settled(now time.Time) bool {
	d.changeMu.Lock()
	defer d.changeMu.Unlock()

	if d.lastChange.IsZero() || now.Sub(d.lastChange) < d.config.DebounceInterval {
		return false
	}
	d.lastChange = time.Time{}
	return true
}

func (d *Daemon) push() error {
	if err := d.pusher.Push(d.ctx); err != nil {
		return err
	}
	d.changeMu.Lock()
	d.pushes++
	d.changeMu.Unlock()
	return nil
}
