// Package channel implements the delivery policy between primary and
// companion.
//
// Three delivery classes are used:
//
//  1. Immediate message: sent only while the peer is reachable, at most
//     once, with no built-in retry.
//  2. Queued transfer: a durable FIFO outbox in SQLite, drained in order and
//     delivered at least once. Used when the peer is unreachable, when the
//     immediate attempt is not acknowledged, and whenever older intents are
//     still waiting.
//  3. Context: a single replace-in-place slot holding the latest full
//     snapshot. A new snapshot overwrites an undelivered one.
//
// Toggle intents go through Channel (class 1 falling back to 2). Snapshots go
// through Slot (class 3) on the primary and are persisted by ContextStore on
// the companion so a cold start can render the last known state.
//
// Transport failures never surface to callers of SendIntent. Only a failed
// write to the outbox itself is reported.
package channel
