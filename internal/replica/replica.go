// Package replica is the companion's local cache of the primary's lists.
//
// The cache is replaced wholesale by every snapshot, with one exception: an
// entry the user toggled locally keeps the locally chosen in-cart value until
// a snapshot arrives that agrees with it. That is the whole conflict rule;
// there is no merge beyond this per-entry override.
//
//	Empty ──snapshot──▶ Synced ◀──snapshot agrees──▶ PendingLocal
//	                      │                              ▲
//	                      └────────── local toggle ──────┘
package replica

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/shopsmart/shopsync/internal/wire"
)

// State is the replica's sync state.
type State int

const (
	// StateEmpty means no snapshot was ever applied.
	StateEmpty State = iota
	// StateSynced means the cache equals the last snapshot.
	StateSynced
	// StatePendingLocal means at least one local toggle is not yet
	// reflected by a snapshot.
	StatePendingLocal
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSynced:
		return "synced"
	case StatePendingLocal:
		return "pending"
	default:
		return "unknown"
	}
}

// ErrUnknownEntry is returned when toggling an entry the cache does not hold.
var ErrUnknownEntry = errors.New("unknown entry")

// Sender delivers toggle intents. *channel.Channel implements it.
type Sender interface {
	SendIntent(ctx context.Context, payload []byte) error
	// Queued returns the intents not yet delivered, oldest first.
	Queued(ctx context.Context) ([][]byte, error)
}

// ContextStore persists the last received context. *channel.ContextStore
// implements it.
type ContextStore interface {
	Save(ctx context.Context, payload []byte) error
	Load(ctx context.Context) ([]byte, error)
}

// Replica holds the companion's view of the lists.
type Replica struct {
	sender   Sender
	contexts ContextStore
	logger   *log.Logger

	mu       sync.Mutex
	lists    []wire.ListRecord
	received bool
	pending  map[string]bool // entry id → desired in-cart value
	onChange func()
}

// New creates an empty replica. contexts may be nil, in which case nothing
// is persisted and RestoreFromLastKnownContext is a no-op.
// If logger is nil, a default logger writing to stderr is used.
func New(sender Sender, contexts ContextStore, logger *log.Logger) *Replica {
	if logger == nil {
		logger = log.New(os.Stderr, "[replica] ", log.LstdFlags)
	}
	return &Replica{
		sender:   sender,
		contexts: contexts,
		logger:   logger,
		pending:  make(map[string]bool),
	}
}

// OnChange registers fn to run after every change to the cache.
func (r *Replica) OnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// ApplySnapshot replaces the cache with snap, keeping the local value of
// every pending entry the snapshot does not yet agree with.
//
// A pending entry is cleared when the snapshot carries the locally chosen
// value, and dropped when the snapshot no longer contains the entry.
func (r *Replica) ApplySnapshot(snap *wire.Snapshot) {
	r.mu.Lock()
	lists := copyLists(snap.Lists)

	seen := make(map[string]bool, len(r.pending))
	for li := range lists {
		for ei := range lists[li].Entries {
			e := &lists[li].Entries[ei]
			want, ok := r.pending[e.ID]
			if !ok {
				continue
			}
			seen[e.ID] = true
			if e.InCart == want {
				delete(r.pending, e.ID)
				continue
			}
			e.InCart = want
		}
	}
	for id := range r.pending {
		if !seen[id] {
			delete(r.pending, id)
		}
	}

	r.lists = lists
	r.received = true
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// ApplyContext decodes and applies a context payload from the primary and
// persists it for cold starts. Malformed payloads are logged and dropped.
func (r *Replica) ApplyContext(ctx context.Context, payload []byte) {
	snap, dropped, err := wire.DecodeSnapshot(payload)
	if err != nil {
		r.logger.Printf("Dropping context: %v", err)
		return
	}
	if dropped > 0 {
		r.logger.Printf("Dropped %d malformed record(s) from context", dropped)
	}

	if r.contexts != nil {
		if err := r.contexts.Save(ctx, payload); err != nil {
			r.logger.Printf("WARNING: Failed to persist context: %v", err)
		}
	}
	r.ApplySnapshot(snap)
}

// RestoreFromLastKnownContext applies the persisted context, if any, so the
// cache is populated before the primary pushes. It reports whether a
// context was applied.
//
// Intents still waiting in the sender's outbox are local toggles the primary
// has not seen, so they become pending entries again and keep overriding
// the stored context, exactly as they did before the restart.
func (r *Replica) RestoreFromLastKnownContext(ctx context.Context) (bool, error) {
	if r.contexts == nil {
		return false, nil
	}
	payload, err := r.contexts.Load(ctx)
	if err != nil {
		return false, err
	}
	if payload == nil {
		return false, nil
	}

	snap, _, err := wire.DecodeSnapshot(payload)
	if err != nil {
		r.logger.Printf("Ignoring stored context: %v", err)
		return false, nil
	}

	queued, err := r.queuedTargets(ctx, snap)
	if err != nil {
		return false, err
	}
	r.mu.Lock()
	for id, want := range queued {
		r.pending[id] = want
	}
	r.mu.Unlock()

	r.ApplySnapshot(snap)
	return true, nil
}

// queuedTargets replays the outbox over snap and returns the in-cart value
// each queued entry ends up with. Later intents win.
func (r *Replica) queuedTargets(ctx context.Context, snap *wire.Snapshot) (map[string]bool, error) {
	targets := make(map[string]bool)
	if r.sender == nil {
		return targets, nil
	}
	payloads, err := r.sender.Queued(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued intents: %w", err)
	}

	for _, p := range payloads {
		intent, err := wire.DecodeToggle(p)
		if err != nil {
			r.logger.Printf("Skipping queued payload: %v", err)
			continue
		}
		if intent.InCart != nil {
			targets[intent.EntryID] = *intent.InCart
			continue
		}
		// Flip intent: relative to the latest known value.
		current, ok := targets[intent.EntryID]
		if !ok {
			e := findEntry(snap.Lists, intent.EntryID)
			if e == nil {
				continue
			}
			current = e.InCart
		}
		targets[intent.EntryID] = !current
	}
	return targets, nil
}

func findEntry(lists []wire.ListRecord, entryID string) *wire.EntryRecord {
	for i := range lists {
		if e := lists[i].Entry(entryID); e != nil {
			return e
		}
	}
	return nil
}

// ToggleLocally flips an entry's in-cart flag in the cache, marks it
// pending and sends an intent carrying the new value. The cache is updated
// before the send, so the change is visible even when the peer is away.
// The returned error is only ever a local one: an unknown entry or a failed
// write to the outbox.
func (r *Replica) ToggleLocally(ctx context.Context, entryID, listID string) (bool, error) {
	r.mu.Lock()
	e := r.find(entryID, listID)
	if e == nil {
		r.mu.Unlock()
		return false, fmt.Errorf("%w: %s in list %s", ErrUnknownEntry, entryID, listID)
	}
	e.InCart = !e.InCart
	want := e.InCart
	r.pending[entryID] = want
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}

	payload, err := wire.EncodeToggle(entryID, want)
	if err != nil {
		return want, err
	}
	if err := r.sender.SendIntent(ctx, payload); err != nil {
		return want, fmt.Errorf("failed to send toggle: %w", err)
	}
	return want, nil
}

func (r *Replica) find(entryID, listID string) *wire.EntryRecord {
	for li := range r.lists {
		if r.lists[li].ID != listID {
			continue
		}
		return r.lists[li].Entry(entryID)
	}
	return nil
}

// State returns the current sync state.
func (r *Replica) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case !r.received:
		return StateEmpty
	case len(r.pending) > 0:
		return StatePendingLocal
	default:
		return StateSynced
	}
}

// Lists returns a copy of the cached lists.
func (r *Replica) Lists() []wire.ListRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyLists(r.lists)
}

// List returns a copy of one cached list, or nil.
func (r *Replica) List(id string) *wire.ListRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.lists {
		if r.lists[i].ID == id {
			l := copyLists(r.lists[i : i+1])[0]
			return &l
		}
	}
	return nil
}

// Pending returns the ids of entries with an unconfirmed local toggle.
func (r *Replica) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func copyLists(in []wire.ListRecord) []wire.ListRecord {
	if in == nil {
		return nil
	}
	out := make([]wire.ListRecord, len(in))
	for i, l := range in {
		out[i] = l
		out[i].Entries = append([]wire.EntryRecord(nil), l.Entries...)
	}
	return out
}
