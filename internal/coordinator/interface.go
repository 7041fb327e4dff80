package coordinator

import (
	"context"

	"github.com/shopsmart/shopsync/internal/wire"
)

// Coordinator keeps the companion's context current.
type Coordinator interface {
	// BuildSnapshot renders every list with its entries in shelf order and
	// item fields flattened in. Item images are replaced by small JPEG
	// thumbnails; images that cannot be decoded are left out.
	BuildSnapshot(ctx context.Context) (*wire.Snapshot, error)

	// Push builds a snapshot and writes it into the context slot,
	// replacing any snapshot the peer has not picked up yet.
	Push(ctx context.Context) error

	// HandleInbound applies a payload received from the companion.
	// Anything that is not a toggle intent is ignored, as is an intent for
	// an entry that no longer exists. Nothing is returned because nothing
	// here is the sender's problem.
	HandleInbound(ctx context.Context, payload []byte)

	// Close stops reacting to catalog changes.
	Close()
}
