package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ptmt/youtrek-sub001/internal/storage"
	"github.com/ptmt/youtrek-sub001/internal/types"
)

// MessageType defines the type of bridge message
type MessageType string

const (
	// MessageTypeSyncState indicates a sync phase transition
	MessageTypeSyncState MessageType = "sync_state"

	// MessageTypeQueryUpdate indicates a cached result set changed
	MessageTypeQueryUpdate MessageType = "query_update"

	// MessageTypeConflict indicates a pending edit hit a remote conflict
	MessageTypeConflict MessageType = "conflict"

	// MessageTypeAdvisory indicates an operational warning
	MessageTypeAdvisory MessageType = "advisory"
)

// Message represents a bridge broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncStateData carries the phase of a sync_state message.
type SyncStateData struct {
	Phase types.SyncPhase `json:"phase"`
}

// NewMessage wraps a payload into a timestamped bridge message.
func NewMessage(t MessageType, data interface{}) Message {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = nil
	}
	return Message{Type: t, Timestamp: time.Now().UTC(), Data: raw}
}

// Server bridges the hub's streams to WebSocket clients, so shells in
// other processes can render sync state, result updates and conflict
// prompts live.
type Server struct {
	addr  string
	hub   *Hub
	store storage.Store

	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// ServerConfig holds bridge server configuration
type ServerConfig struct {
	// Port to listen on (default: 7911)
	Port int

	// Logger for server activity (default: the process logger)
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:   7911,
		Logger: log.Default(),
	}
}

// NewServer creates a bridge server over the hub. The store is optional;
// when present the /state endpoint includes cache statistics.
func NewServer(hub *Hub, store storage.Store, config *ServerConfig) *Server {
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		hub:       hub,
		store:     store,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger,
	}
}

// Start begins listening and pumping hub streams to connected clients
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/state", s.handleState)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.broadcastLoop()
	go s.pumpLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Bridge server listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping bridge server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Bridge server stopped")
	return nil
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
		return
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// pumpLoop forwards the hub's streams into the broadcast channel.
func (s *Server) pumpLoop() {
	defer s.wg.Done()

	states, cancelStates := s.hub.ObserveState()
	defer cancelStates()
	conflicts, cancelConflicts := s.hub.ObserveConflicts()
	defer cancelConflicts()
	advisories, cancelAdvisories := s.hub.ObserveAdvisories()
	defer cancelAdvisories()
	queries, cancelQueries := s.hub.ObserveAllQueries()
	defer cancelQueries()

	for {
		select {
		case <-s.ctx.Done():
			return
		case phase := <-states:
			s.Broadcast(NewMessage(MessageTypeSyncState, SyncStateData{Phase: phase}))
		case n := <-conflicts:
			s.Broadcast(NewMessage(MessageTypeConflict, n))
		case a := <-advisories:
			s.Broadcast(NewMessage(MessageTypeAdvisory, a))
		case u := <-queries:
			s.Broadcast(NewMessage(MessageTypeQueryUpdate, u))
		}
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now().UTC()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Send outside the read lock so a slow client cannot block
			// new broadcasts.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // local desktop shells connect from file:// and app origins
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// New clients immediately learn the current sync phase.
	welcome := NewMessage(MessageTypeSyncState, SyncStateData{Phase: s.hub.State()})
	welcomeData, _ := json.Marshal(welcome)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, welcomeData)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are ignored; the bridge is one-way.
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client disconnected (total: %d)", clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// handleState returns a JSON snapshot: sync phase, pending conflicts and,
// when a store is wired, cache statistics.
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Phase     types.SyncPhase         `json:"phase"`
		Conflicts []*types.ConflictNotice `json:"conflicts"`
		Clients   int                     `json:"clients"`
		Stats     *storage.Stats          `json:"stats,omitempty"`
	}{
		Phase:     s.hub.State(),
		Conflicts: s.hub.PendingConflicts(),
		Clients:   s.ClientCount(),
	}
	if s.store != nil {
		stats, err := s.store.Stats(r.Context())
		if err != nil {
			s.logger.Printf("Stats for /state failed: %v", err)
		} else {
			resp.Stats = stats
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>YouTrek Bridge</title>
</head>
<body>
    <h1>YouTrek Sync Bridge</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>State snapshot: <a href="/state">/state</a></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive sync state, result updates and conflict notices.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
