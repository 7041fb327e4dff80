// Package transport carries sync payloads between primary and companion over
// a WebSocket link.
//
// Every frame is a JSON Envelope. The companion sends "message" (immediate)
// and "transfer" (queued) envelopes and waits for an "ack" carrying the same
// id. The primary pushes "context" envelopes holding the latest snapshot on
// connect and whenever it changes; contexts are not acknowledged because a
// newer one always supersedes them.
package transport

import "encoding/json"

// Kind identifies an envelope's role.
type Kind string

const (
	KindMessage  Kind = "message"
	KindTransfer Kind = "transfer"
	KindContext  Kind = "context"
	KindAck      Kind = "ack"
)

// Envelope is a single frame on the link.
type Envelope struct {
	Kind Kind            `json:"kind"`
	ID   string          `json:"id,omitempty"`
	Seq  int64           `json:"seq,omitempty"`
	Body json.RawMessage `json:"body,omitempty"`
}

// SyncPath is the WebSocket endpoint served by the primary.
const SyncPath = "/sync"

// maxFrameSize bounds a single frame. Snapshots carry thumbnails, so the
// library default of 32KiB is too small.
const maxFrameSize = 16 << 20
