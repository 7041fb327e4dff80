package channel

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"
)

// ErrUnreachable is returned by a Transport when no peer is connected.
var ErrUnreachable = errors.New("peer unreachable")

// Transport moves payloads to the peer.
//
// SendMessage and Transfer return nil only once the peer has acknowledged
// the payload. Any error, including a context deadline, is treated as
// "not delivered".
type Transport interface {
	Reachable() bool
	SendMessage(ctx context.Context, payload []byte) error
	Transfer(ctx context.Context, seq int64, payload []byte) error
}

// Config holds channel timing.
type Config struct {
	// AckTimeout bounds the wait for a peer acknowledgment (default: 5s).
	AckTimeout time.Duration

	// FlushInterval is how often Run retries the outbox (default: 10s).
	FlushInterval time.Duration

	// BatchSize caps the items read from the outbox per flush pass (default: 64).
	BatchSize int

	// Logger for channel activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AckTimeout:    5 * time.Second,
		FlushInterval: 10 * time.Second,
		BatchSize:     64,
	}
}

// Channel sends toggle intents from the companion to the primary.
type Channel struct {
	transport Transport
	queue     *Queue
	config    *Config
	logger    *log.Logger

	// sendMu serializes SendIntent and Flush so an immediate message can
	// never overtake an older queued one.
	sendMu sync.Mutex

	wake chan struct{}
}

// New creates a Channel. If config is nil, DefaultConfig is used.
func New(transport Transport, queue *Queue, config *Config) *Channel {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.AckTimeout <= 0 {
		config.AckTimeout = defaults.AckTimeout
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[channel] ", log.LstdFlags)
	}

	return &Channel{
		transport: transport,
		queue:     queue,
		config:    config,
		logger:    logger,
		wake:      make(chan struct{}, 1),
	}
}

// SendIntent delivers payload to the peer.
//
// When the peer is reachable and nothing older is waiting in the outbox, an
// immediate message is attempted. If that is not acknowledged within
// AckTimeout, or the peer is unreachable, or the outbox is non-empty, the
// payload is queued. Delivery failures are logged, never returned; the only
// error is a failed write to the outbox.
func (c *Channel) SendIntent(ctx context.Context, payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.canSendImmediately(ctx) {
		sendCtx, cancel := context.WithTimeout(ctx, c.config.AckTimeout)
		err := c.transport.SendMessage(sendCtx, payload)
		cancel()
		if err == nil {
			return nil
		}
		c.logger.Printf("Immediate send failed, queueing: %v", err)
	}

	seq, err := c.queue.Enqueue(ctx, payload)
	if err != nil {
		return err
	}
	c.logger.Printf("Queued intent #%d", seq)
	c.Notify()
	return nil
}

func (c *Channel) canSendImmediately(ctx context.Context) bool {
	if !c.transport.Reachable() {
		return false
	}
	n, err := c.queue.Len(ctx)
	if err != nil {
		c.logger.Printf("WARNING: Failed to read outbox length: %v", err)
		return false
	}
	return n == 0
}

// Flush drains the outbox in order while the peer acknowledges. It stops at
// the first failure so later items never overtake earlier ones, and returns
// how many items were delivered.
func (c *Channel) Flush(ctx context.Context) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	delivered := 0
	for {
		if !c.transport.Reachable() {
			return delivered, nil
		}
		items, err := c.queue.Peek(ctx, c.config.BatchSize)
		if err != nil {
			return delivered, err
		}
		if len(items) == 0 {
			return delivered, nil
		}

		for _, it := range items {
			sendCtx, cancel := context.WithTimeout(ctx, c.config.AckTimeout)
			err := c.transport.Transfer(sendCtx, it.Seq, it.Payload)
			cancel()
			if err != nil {
				c.logger.Printf("Transfer #%d not acknowledged, will retry: %v", it.Seq, err)
				return delivered, nil
			}
			if err := c.queue.Ack(ctx, it.Seq); err != nil {
				return delivered, err
			}
			delivered++
		}
	}
}

// Notify asks Run to flush now. Call it from connectivity callbacks.
// It never blocks.
func (c *Channel) Notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run flushes the outbox on every Notify and every FlushInterval until ctx
// is cancelled.
func (c *Channel) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.wake:
		}

		n, err := c.Flush(ctx)
		if err != nil {
			c.logger.Printf("WARNING: Flush failed: %v", err)
			continue
		}
		if n > 0 {
			c.logger.Printf("Delivered %d queued intent(s)", n)
		}
	}
}

// Queued returns the payloads waiting in the outbox, oldest first.
func (c *Channel) Queued(ctx context.Context) ([][]byte, error) {
	items, err := c.queue.Peek(ctx, -1)
	if err != nil {
		return nil, err
	}
	payloads := make([][]byte, 0, len(items))
	for _, it := range items {
		payloads = append(payloads, it.Payload)
	}
	return payloads, nil
}

// Pending returns the number of queued, undelivered intents.
func (c *Channel) Pending(ctx context.Context) (int, error) {
	return c.queue.Len(ctx)
}
