package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/u3640877/transitive/internal/datacache"
	"github.com/u3640877/transitive/internal/topics"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeChange      = "change"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256

	// wsWriteTimeout bounds a single outbound frame write.
	wsWriteTimeout = 10 * time.Second
)

// WSMessage is the envelope for all WebSocket traffic.
type WSMessage struct {
	Type      string   `json:"type"`
	Selectors []string `json:"selectors,omitempty"`
	Topic     string   `json:"topic,omitempty"`
	Value     any      `json:"value,omitempty"`
	External  bool     `json:"external,omitempty"`
}

// Hub manages WebSocket connections and relays cache changes.
type Hub struct {
	logger  Logger
	clients map[*wsClient]struct{}
	mu      sync.RWMutex
}

// Logger is the logging interface the hub needs.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// wsClient is one connected WebSocket peer.
type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	selectors map[string]struct{}
	mu        sync.RWMutex
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Authentication happens via token; origins are not restricted.
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(logger Logger) *Hub {
	return &Hub{
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// Attach subscribes the hub to a cache: every flat change is relayed to
// clients whose selectors match its topic.
func (h *Hub) Attach(cache *datacache.Cache) {
	cache.Subscribe(func(changes datacache.ChangeSet, tags datacache.Tags) {
		for _, ch := range changes {
			h.broadcast(ch.Topic, ch.Value, tags.External())
		}
	})
}

// Run blocks until the context is cancelled, then closes all clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*wsClient]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
}

// register adds a client to the hub.
func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that removes the client
// from the map closes the send channel, preventing double-close panics.
func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()

	if existed {
		close(c.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// broadcast relays one change to every client with a matching selector.
func (h *Hub) broadcast(topic string, value any, external bool) {
	h.mu.RLock()
	if len(h.clients) == 0 {
		h.mu.RUnlock()
		return
	}
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	data, err := json.Marshal(WSMessage{
		Type:     WSTypeChange,
		Topic:    topic,
		Value:    value,
		External: external,
	})
	if err != nil {
		h.logger.Error("marshalling change message failed", "error", err)
		return
	}

	for _, c := range clients {
		if c.matches(topic) {
			c.trySend(data)
		}
	}
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		hub:       s.hub,
		conn:      conn,
		send:      make(chan []byte, wsSendBufferSize),
		selectors: make(map[string]struct{}),
	}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

// matches reports whether any of the client's selectors covers topic.
func (c *wsClient) matches(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for sel := range c.selectors {
		if _, ok := topics.MatchTopic(sel, topic); ok {
			return true
		}
	}
	return false
}

// trySend queues data without blocking; slow clients drop messages rather
// than stalling the broadcast loop.
func (c *wsClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

// readPump consumes subscribe/unsubscribe/ping frames until the
// connection drops.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendType(WSTypeError)
			continue
		}

		switch msg.Type {
		case WSTypeSubscribe:
			c.mu.Lock()
			for _, sel := range msg.Selectors {
				c.selectors[sel] = struct{}{}
			}
			c.mu.Unlock()
		case WSTypeUnsubscribe:
			c.mu.Lock()
			for _, sel := range msg.Selectors {
				delete(c.selectors, sel)
			}
			c.mu.Unlock()
		case WSTypePing:
			c.sendType(WSTypePong)
		default:
			c.sendType(WSTypeError)
		}
	}
}

// sendType queues a bare typed message.
func (c *wsClient) sendType(t string) {
	if data, err := json.Marshal(WSMessage{Type: t}); err == nil {
		c.trySend(data)
	}
}

// writePump writes queued messages until the send channel closes.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
