package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/shopsmart/shopsync/internal/channel"
)

// ClientConfig holds client configuration.
type ClientConfig struct {
	// URL of the primary's sync endpoint, e.g. ws://host:7420/sync.
	URL string

	// ReconnectInterval is the wait between dial attempts (default: 2s).
	ReconnectInterval time.Duration

	// OnContext receives every snapshot pushed by the primary.
	OnContext func(payload []byte)

	// OnConnect fires after each successful dial.
	OnConnect func()

	// Logger for client activity (default: stderr logger).
	Logger *log.Logger
}

// session is one live connection.
type session struct {
	conn *websocket.Conn
	done chan struct{}
}

// Client is the companion's end of the link. It implements channel.Transport.
type Client struct {
	url       string
	interval  time.Duration
	onContext func([]byte)
	onConnect func()
	logger    *log.Logger

	mu      sync.RWMutex
	current *session

	pendingMu sync.Mutex
	pending   map[string]chan struct{}
}

var _ channel.Transport = (*Client)(nil)

// NewClient creates a client. Call Run to connect.
func NewClient(config *ClientConfig) *Client {
	interval := config.ReconnectInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	return &Client{
		url:       config.URL,
		interval:  interval,
		onContext: config.OnContext,
		onConnect: config.OnConnect,
		logger:    logger,
		pending:   make(map[string]chan struct{}),
	}
}

// Run keeps a connection to the primary open, redialing after every
// failure, until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	for {
		if err := c.connectOnce(ctx); err != nil && ctx.Err() == nil {
			c.logger.Printf("Connection to %s lost: %v", c.url, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	sess := &session{conn: conn, done: make(chan struct{})}
	c.mu.Lock()
	c.current = sess
	c.mu.Unlock()
	c.logger.Printf("Connected to %s", c.url)

	defer func() {
		c.mu.Lock()
		if c.current == sess {
			c.current = nil
		}
		c.mu.Unlock()
		close(sess.done)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	if c.onConnect != nil {
		go c.onConnect()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch env.Kind {
		case KindContext:
			if c.onContext != nil {
				c.onContext(env.Body)
			}
		case KindAck:
			c.resolve(env.ID)
		default:
			c.logger.Printf("Ignoring frame of kind %q", env.Kind)
		}
	}
}

// Reachable reports whether a connection is open.
func (c *Client) Reachable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// SendMessage implements channel.Transport.
func (c *Client) SendMessage(ctx context.Context, payload []byte) error {
	return c.send(ctx, Envelope{Kind: KindMessage, Body: payload})
}

// Transfer implements channel.Transport.
func (c *Client) Transfer(ctx context.Context, seq int64, payload []byte) error {
	return c.send(ctx, Envelope{Kind: KindTransfer, Seq: seq, Body: payload})
}

// send writes env and waits for the matching ack.
func (c *Client) send(ctx context.Context, env Envelope) error {
	c.mu.RLock()
	sess := c.current
	c.mu.RUnlock()
	if sess == nil {
		return channel.ErrUnreachable
	}

	env.ID = uuid.NewString()
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	ack := make(chan struct{})
	c.pendingMu.Lock()
	c.pending[env.ID] = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, env.ID)
		c.pendingMu.Unlock()
	}()

	if err := sess.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("failed to write %s: %w", env.Kind, err)
	}

	select {
	case <-ack:
		return nil
	case <-sess.done:
		return channel.ErrUnreachable
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) resolve(id string) {
	c.pendingMu.Lock()
	ack, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if ok {
		close(ack)
	}
}
