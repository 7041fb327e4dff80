// Package coordinator drives primary → companion sync.
//
// The coordinator turns the store of record into a wire.Snapshot and writes
// it into the context slot after every committed change. It also applies
// toggle intents arriving from the companion.
//
// Pushes are not debounced here. Every change produces one snapshot and the
// slot keeps only the newest, so a slow peer simply skips intermediate ones.
package coordinator
