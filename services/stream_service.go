package services

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// WriteTimeout bounds a single websocket write
	WriteTimeout = 10 * time.Second
	// PongTimeout is how long a connection may stay silent before it is
	// considered dead
	PongTimeout = 60 * time.Second
	// PingInterval is how often the server probes idle connections
	PingInterval = 45 * time.Second
	// maxMessageSize bounds inbound client messages
	maxMessageSize = 1024
	// sendBufferSize is the per-client outbound queue
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamCommand is the inbound client message shape
type streamCommand struct {
	Action  string   `json:"action"`
	Symbol  string   `json:"symbol,omitempty"`
	Symbols []string `json:"symbols,omitempty"`
}

// StreamClient is one websocket connection
type StreamClient struct {
	id          string
	conn        *websocket.Conn
	send        chan []byte
	connectedAt time.Time

	mu     sync.Mutex
	closed bool
}

// enqueue queues a payload unless the client is closed or its buffer
// is full
func (c *StreamClient) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// close marks the client dead and closes its send queue exactly once
func (c *StreamClient) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// StreamService owns every websocket connection: registration,
// message dispatch, liveness probing and teardown. Subscription state
// lives in the registry so fanout sees the same view.
type StreamService struct {
	registry   *SubscriptionRegistry
	quotes     *QuoteService
	maxClients int

	mu      sync.RWMutex
	clients map[string]*StreamClient

	register   chan *StreamClient
	unregister chan *StreamClient
	done       chan struct{}
	closeOnce  sync.Once
}

// GlobalStreamService is the process-wide stream hub
var GlobalStreamService *StreamService

// InitStreamService wires the hub to the registry and quote service
// and starts its event loop
func InitStreamService(registry *SubscriptionRegistry, quotes *QuoteService, maxClients int) *StreamService {
	GlobalStreamService = NewStreamService(registry, quotes, maxClients)
	go GlobalStreamService.Run()
	return GlobalStreamService
}

// NewStreamService creates a hub without starting its event loop
func NewStreamService(registry *SubscriptionRegistry, quotes *QuoteService, maxClients int) *StreamService {
	return &StreamService{
		registry:   registry,
		quotes:     quotes,
		maxClients: maxClients,
		clients:    make(map[string]*StreamClient),
		register:   make(chan *StreamClient),
		unregister: make(chan *StreamClient),
		done:       make(chan struct{}),
	}
}

// Run processes register and unregister events until Shutdown
func (s *StreamService) Run() {
	for {
		select {
		case client := <-s.register:
			s.mu.Lock()
			s.clients[client.id] = client
			s.mu.Unlock()
			log.Printf("Client %s connected (%d active)", client.id, s.ClientCount())

		case client := <-s.unregister:
			s.dropClient(client)

		case <-s.done:
			return
		}
	}
}

// dropClient removes a client from the hub and the registry. Safe to
// call more than once for the same client.
func (s *StreamService) dropClient(client *StreamClient) {
	s.mu.Lock()
	_, ok := s.clients[client.id]
	if ok {
		delete(s.clients, client.id)
	}
	s.mu.Unlock()

	client.close()
	if ok {
		s.registry.RemoveConnection(client.id)
		log.Printf("Client %s disconnected after %v (%d active)",
			client.id, time.Since(client.connectedAt).Round(time.Second), s.ClientCount())
	}
}

// Send queues a payload for one connection. It reports false when the
// connection is gone or its buffer is full, and a full buffer drops
// the connection so a stalled reader cannot pin the process.
func (s *StreamService) Send(connID string, payload []byte) bool {
	s.mu.RLock()
	client, ok := s.clients[connID]
	s.mu.RUnlock()
	if !ok {
		return false
	}

	if client.enqueue(payload) {
		return true
	}
	log.Printf("Client %s unreachable, dropping connection", connID)
	s.dropClient(client)
	return false
}

// ClientCount reports the number of active connections
func (s *StreamService) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Status reports hub gauges for the status endpoint
func (s *StreamService) Status() map[string]interface{} {
	symbols, subscribers := s.registry.Counts()
	return map[string]interface{}{
		"active_connections": s.ClientCount(),
		"max_connections":    s.maxClients,
		"watched_symbols":    symbols,
		"subscribed_clients": subscribers,
	}
}

// Shutdown tells every client the server is going away, closes their
// connections and stops the event loop
func (s *StreamService) Shutdown() {
	payload := encodeMessage(map[string]interface{}{
		"type":      "server_shutdown",
		"message":   "Server is shutting down",
		"timestamp": time.Now().Format(time.RFC3339),
	})

	s.mu.Lock()
	clients := make([]*StreamClient, 0, len(s.clients))
	for id, client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, id)
	}
	s.mu.Unlock()

	for _, client := range clients {
		client.enqueue(payload)
		client.close()
		s.registry.RemoveConnection(client.id)
	}

	s.closeOnce.Do(func() { close(s.done) })
}

// HandleWebSocket upgrades an HTTP request into a managed connection
func (s *StreamService) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.ClientCount() >= s.maxClients {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := &StreamClient{
		id:          uuid.New().String(),
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
	}

	// Queued before the pumps start so it is always the first frame
	client.enqueue(encodeMessage(map[string]interface{}{
		"type":      "connection",
		"status":    "connected",
		"clientId":  client.id,
		"timestamp": client.connectedAt.Format(time.RFC3339),
	}))

	select {
	case s.register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go s.writePump(client)
	go s.readPump(client)
}

// readPump consumes client messages until the connection dies. The
// read deadline doubles as the liveness timeout and is pushed forward
// by every pong.
func (s *StreamService) readPump(client *StreamClient) {
	defer func() {
		select {
		case s.unregister <- client:
		case <-s.done:
			// Event loop already stopped, clean up directly
			s.dropClient(client)
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(maxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(PongTimeout))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(PongTimeout))
		return nil
	})

	for {
		_, message, err := client.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Client %s read error: %v", client.id, err)
			}
			return
		}
		s.handleMessage(client, message)
	}
}

// writePump drains the send queue and probes the peer. Closing the
// send channel makes it emit a going-away close frame and exit.
func (s *StreamService) writePump(client *StreamClient) {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one inbound client message. Malformed JSON
// gets an error reply and the connection stays open.
func (s *StreamService) handleMessage(client *StreamClient, raw []byte) {
	var cmd streamCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		s.reply(client, errorMessage("Invalid JSON format"))
		return
	}

	switch cmd.Action {
	case "subscribe":
		symbols := normalizeSymbols(cmd.Symbols)
		for _, symbol := range symbols {
			s.registry.Subscribe(client.id, symbol)
		}
		s.reply(client, map[string]interface{}{
			"type":    "subscription_confirmed",
			"symbols": symbols,
		})

	case "unsubscribe":
		symbols := normalizeSymbols(cmd.Symbols)
		for _, symbol := range symbols {
			s.registry.Unsubscribe(client.id, symbol)
		}
		s.reply(client, map[string]interface{}{
			"type":    "unsubscription_confirmed",
			"symbols": symbols,
		})

	case "ping":
		s.reply(client, map[string]interface{}{
			"type":      "pong",
			"timestamp": time.Now().Format(time.RFC3339),
		})

	case "get_quote":
		symbol := strings.ToUpper(strings.TrimSpace(cmd.Symbol))
		if symbol == "" {
			s.reply(client, errorMessage("Symbol is required"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		quote, err := s.quotes.GetQuote(ctx, symbol)
		if err != nil {
			log.Printf("Quote request for %s failed: %v", symbol, err)
			s.reply(client, errorMessage("Failed to fetch quote for "+symbol))
			return
		}
		s.reply(client, map[string]interface{}{
			"type":   "quote",
			"symbol": symbol,
			"data":   quote,
		})

	case "get_indices":
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		indices, err := s.quotes.GetIndices(ctx)
		if err != nil {
			log.Printf("Indices request failed: %v", err)
			s.reply(client, errorMessage("Failed to fetch market indices"))
			return
		}
		s.reply(client, map[string]interface{}{
			"type": "indices",
			"data": indices,
		})

	default:
		s.reply(client, errorMessage("Unknown action: "+cmd.Action))
	}
}

// reply sends a message to the client this handler is serving
func (s *StreamService) reply(client *StreamClient, fields map[string]interface{}) {
	s.Send(client.id, encodeMessage(fields))
}

func errorMessage(message string) map[string]interface{} {
	return map[string]interface{}{
		"type":    "error",
		"message": message,
	}
}

// encodeMessage marshals an outbound message. The field values are all
// marshalable, so failures cannot happen outside programmer error.
func encodeMessage(fields map[string]interface{}) []byte {
	data, err := json.Marshal(fields)
	if err != nil {
		log.Printf("Failed to encode stream message: %v", err)
		return []byte(`{"type":"error","message":"internal encoding error"}`)
	}
	return data
}

// normalizeSymbols uppercases and deduplicates a symbol list
func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	return out
}
