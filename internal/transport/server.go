package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/shopsmart/shopsync/internal/channel"
)

// InboundHandler applies a payload received from the companion. It must
// absorb its own failures; the frame is acknowledged once it returns.
type InboundHandler func(ctx context.Context, payload []byte)

// ServerConfig holds server configuration.
type ServerConfig struct {
	// Addr to listen on (default: ":7420"). Use ":0" for an ephemeral port.
	Addr string

	// WriteTimeout bounds a single frame write (default: 5s).
	WriteTimeout time.Duration

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:         ":7420",
		WriteTimeout: 5 * time.Second,
	}
}

// Server is the primary's end of the link. It pushes the snapshot slot to
// every connected peer and hands inbound intents to the handler.
type Server struct {
	addr         string
	writeTimeout time.Duration
	listener     net.Listener
	server       *http.Server

	slot    *channel.Slot
	handler InboundHandler

	// Connected companions
	peers   map[*websocket.Conn]bool
	peersMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server publishing slot and delivering inbound
// payloads to handler.
func NewServer(slot *channel.Slot, handler InboundHandler, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Addr == "" {
		config.Addr = DefaultServerConfig().Addr
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultServerConfig().WriteTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:         config.Addr,
		writeTimeout: config.WriteTimeout,
		slot:         slot,
		handler:      handler,
		peers:        make(map[*websocket.Conn]bool),
		ctx:          ctx,
		cancel:       cancel,
		logger:       logger,
	}
}

// Start begins listening and serving.
func (s *Server) Start() error {
	// Create listener
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	// Setup HTTP routes
	mux := http.NewServeMux()
	mux.HandleFunc(SyncPath, s.handleSync)
	mux.HandleFunc("/health", s.handleHealth)

	// No read/write timeouts: they would also apply to hijacked WebSocket
	// connections.
	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start HTTP server
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop closes every peer and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync server")
	// Signal shutdown; push and read loops watch this context
	s.cancel()

	// Close all peer connections
	s.peersMu.Lock()
	for conn := range s.peers {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.peers, conn)
	}
	s.peersMu.Unlock()

	// Shutdown HTTP server
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	// Wait for goroutines
	s.wg.Wait()
	s.logger.Println("Sync server stopped")
	return nil
}

// handleSync upgrades a companion's connection and runs it until either
// side goes away.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	// Upgrade connection
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	// Add peer
	s.peersMu.Lock()
	s.peers[conn] = true
	peerCount := len(s.peers)
	s.peersMu.Unlock()
	s.logger.Printf("Peer connected (total: %d)", peerCount)

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// The latest snapshot goes out first, then every later one
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pushLoop(ctx, conn)
	}()

	// Block on inbound frames; returning tears the connection down
	s.readLoop(ctx, conn)
}

// pushLoop writes the slot contents to conn on connect and after every Put.
// Intermediate snapshots put while a write is in flight are skipped.
func (s *Server) pushLoop(ctx context.Context, conn *websocket.Conn) {
	var sent uint64
	for {
		// Grab the change signal before reading so a Put in between is not lost
		changed := s.slot.Changed()
		data, version := s.slot.Get()
		if version != 0 && version != sent {
			if err := s.write(ctx, conn, Envelope{Kind: KindContext, Body: data}); err != nil {
				if ctx.Err() == nil {
					s.logger.Printf("Failed to push context: %v", err)
					s.removePeer(conn)
				}
				return
			}
			sent = version
		}

		// Wait for the next Put
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// readLoop handles inbound frames until the peer goes away.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer s.removePeer(conn)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Peer closed, or the server is stopping
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		switch env.Kind {
		case KindMessage, KindTransfer:
			if s.handler != nil {
				s.handler(ctx, env.Body)
			}
			// Unnumbered frames are fire-and-forget
			if env.ID == "" {
				continue
			}
			if err := s.write(ctx, conn, Envelope{Kind: KindAck, ID: env.ID}); err != nil {
				s.logger.Printf("Failed to ack %s: %v", env.ID, err)
				return
			}
		default:
			s.logger.Printf("Ignoring frame of kind %q", env.Kind)
		}
	}
}

// write sends one envelope, bounded by the configured write timeout.
func (s *Server) write(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, data)
}

// removePeer safely removes and closes a peer connection. It is a no-op
// for a peer Stop already closed.
func (s *Server) removePeer(conn *websocket.Conn) {
	s.peersMu.Lock()
	if _, exists := s.peers[conn]; exists {
		delete(s.peers, conn)
		peerCount := len(s.peers)
		s.peersMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Peer disconnected (total: %d)", peerCount)
	} else {
		s.peersMu.Unlock()
	}
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, version := s.slot.Get()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":           "ok",
		"peers":            s.PeerCount(),
		"snapshot_version": version,
	})
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// PeerCount returns the number of connected peers.
func (s *Server) PeerCount() int {
	s.peersMu.RLock()
	defer s.peersMu.RUnlock()
	return len(s.peers)
}
