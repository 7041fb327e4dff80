package daemon

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TouchOp is what happened to a database file.
type TouchOp int

const (
	// TouchCreated means the file appeared.
	TouchCreated TouchOp = iota
	// TouchWritten means the file's contents changed.
	TouchWritten
	// TouchRemoved means the file was deleted or renamed away.
	TouchRemoved
)

// String returns a human-readable representation of the operation.
func (op TouchOp) String() string {
	switch op {
	case TouchCreated:
		return "create"
	case TouchWritten:
		return "write"
	case TouchRemoved:
		return "remove"
	default:
		return "unknown"
	}
}

// DBPart names which of SQLite's files a touch landed on. In WAL mode a
// commit only reaches the main file at the next checkpoint, so writes to
// PartWAL are the usual signal.
type DBPart int

const (
	// PartMain is the database file itself.
	PartMain DBPart = iota
	// PartWAL is the write-ahead log (<db>-wal).
	PartWAL
	// PartJournal is the rollback journal (<db>-journal).
	PartJournal
)

// partSuffixes maps the suffix after the database's base name to its part.
var partSuffixes = map[string]DBPart{
	"":         PartMain,
	"-wal":     PartWAL,
	"-journal": PartJournal,
}

// String returns the suffix-style name of the part.
func (p DBPart) String() string {
	switch p {
	case PartMain:
		return "db"
	case PartWAL:
		return "wal"
	case PartJournal:
		return "journal"
	default:
		return "unknown"
	}
}

// Touch reports one change to the watched database.
type Touch struct {
	// Path is the absolute path of the file that changed.
	Path string
	// Part is which of the database's files it was.
	Part DBPart
	// Op is what happened to it.
	Op TouchOp
}

// DBWatcher follows writes to a single SQLite database, including writes
// that land in its side files.
type DBWatcher struct {
	fsw     *fsnotify.Watcher
	touches chan Touch
	errs    chan error
	quit    chan struct{}
	loop    sync.WaitGroup

	mu      sync.Mutex
	running bool
	dir     string // absolute directory of the database
	base    string // database file name
}

// NewDBWatcher creates a watcher. Nothing is watched until Start.
func NewDBWatcher() (*DBWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &DBWatcher{
		fsw:     fsw,
		touches: make(chan Touch, 100),
		errs:    make(chan error, 10),
		quit:    make(chan struct{}),
	}, nil
}

// Start watches the database at dbPath. It fails if the watcher is
// already running or the database's directory cannot be watched.
func (w *DBWatcher) Start(dbPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("watcher already running")
	}

	// Resolve once so every event path can be compared by string.
	abs, err := filepath.Abs(dbPath)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", dbPath, err)
	}
	w.dir, w.base = filepath.Split(abs)
	w.dir = filepath.Clean(w.dir)

	// Watch the directory, not the file. SQLite creates and deletes the
	// side files as it goes, and a restore replaces the main file.
	if err := w.fsw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch data directory %s: %w", w.dir, err)
	}

	w.running = true
	w.loop.Add(1)
	go w.run()

	return nil
}

// Stop ends the watch and closes the Touches and Errors channels once the
// event loop has exited. Calling it on a watcher that never started just
// releases the fsnotify handle.
func (w *DBWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	w.mu.Unlock()

	// Signal shutdown
	close(w.quit)

	// Closing fsnotify unblocks a loop parked on its channels
	if err := w.fsw.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	// Nothing sends after this, so the channels are safe to close
	w.loop.Wait()
	close(w.touches)
	close(w.errs)

	return nil
}

// Touches returns the channel of database changes. It is closed by Stop.
func (w *DBWatcher) Touches() <-chan Touch {
	return w.touches
}

// Errors returns the channel of fsnotify errors. It is closed by Stop.
func (w *DBWatcher) Errors() <-chan error {
	return w.errs
}

// IsRunning reports whether Start has succeeded and Stop not yet run.
func (w *DBWatcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// run forwards relevant fsnotify events until quit closes.
func (w *DBWatcher) run() {
	defer w.loop.Done()

	for {
		select {
		case <-w.quit:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Other files in the data directory are dropped here
			t, keep := w.classify(ev)
			if keep && !forward(w.touches, t, w.quit) {
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if !forward(w.errs, err, w.quit) {
				return
			}
		}
	}
}

// forward sends v on out unless quit closes first. It reports whether the
// send happened.
func forward[T any](out chan<- T, v T, quit <-chan struct{}) bool {
	select {
	case out <- v:
		return true
	case <-quit:
		return false
	}
}

// classify turns an fsnotify event into a Touch. The second result is
// false for files that are not part of the database and for chmod.
func (w *DBWatcher) classify(ev fsnotify.Event) (Touch, bool) {
	part, ok := w.partOf(ev.Name)
	if !ok {
		return Touch{}, false
	}

	var op TouchOp
	switch {
	case ev.Has(fsnotify.Create):
		op = TouchCreated
	case ev.Has(fsnotify.Write):
		op = TouchWritten
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		// A rename away looks like removal from here
		op = TouchRemoved
	default:
		return Touch{}, false
	}

	return Touch{Path: ev.Name, Part: part, Op: op}, true
}

// partOf reports which database file path is, if any.
func (w *DBWatcher) partOf(path string) (DBPart, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, false
	}
	if filepath.Dir(abs) != w.dir {
		return 0, false
	}

	// "shopsync.db-wal" splits into "shopsync.db" and "-wal"
	name := filepath.Base(abs)
	if !strings.HasPrefix(name, w.base) {
		return 0, false
	}
	part, ok := partSuffixes[strings.TrimPrefix(name, w.base)]
	return part, ok
}
