package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stuckorders/stuckorders/server/internal/api"
	"github.com/stuckorders/stuckorders/server/internal/store"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// PathPrefix is where the hub is mounted.
	PathPrefix = "/ws/sessions/"
)

// Events sent to clients.
const (
	EventAnalysis = "analysis"
	EventClosed   = "closed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Analyzer computes the current analysis of a session.
type Analyzer interface {
	Analyze(sessionID string) (*api.SessionAnalysis, error)
}

// Message is the JSON envelope sent to clients.
type Message struct {
	Event     string               `json:"event"`
	SessionID string               `json:"session_id"`
	Data      *api.SessionAnalysis `json:"data,omitempty"`
}

// Hub manages WebSocket clients grouped by session.
type Hub struct {
	analyzer Analyzer
	interval time.Duration

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	session string
	conn    *websocket.Conn
	send    chan []byte
}

// New creates a Hub that recomputes analyses through a and refreshes every
// interval.
func New(a Analyzer, interval time.Duration) *Hub {
	return &Hub{
		analyzer: a,
		interval: interval,
		clients:  make(map[*client]struct{}),
	}
}

// Run refreshes every connected session each interval. It blocks until ctx
// is cancelled, then closes all connections.
func (h *Hub) Run(ctx context.Context) {
	t := time.NewTicker(h.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-t.C:
			for _, id := range h.sessions() {
				h.push(id)
			}
		}
	}
}

// ServeHTTP upgrades a request for PathPrefix+{id}. Unknown sessions get a
// plain 404 before the upgrade.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, PathPrefix)
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	first, err := h.message(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		session: id,
		conn:    conn,
		send:    make(chan []byte, sendBufSize),
	}
	c.send <- first
	h.register(c)
	defer h.unregister(c)

	go c.writePump()
	c.readPump() // blocks until connection closes
}

// SessionChanged pushes a fresh analysis to the clients of session id.
func (h *Hub) SessionChanged(id string) { h.push(id) }

// SessionClosed notifies and disconnects the clients of session id.
func (h *Hub) SessionClosed(id string) {
	data, _ := json.Marshal(Message{Event: EventClosed, SessionID: id})
	targets := h.targets(id)
	h.send(targets, data)
	for _, c := range targets {
		h.unregister(c)
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// sessions returns the distinct sessions with at least one client.
func (h *Hub) sessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for c := range h.clients {
		if !seen[c.session] {
			seen[c.session] = true
			out = append(out, c.session)
		}
	}
	return out
}

func (h *Hub) targets(id string) []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []*client
	for c := range h.clients {
		if c.session == id {
			out = append(out, c)
		}
	}
	return out
}

// push recomputes session id once and sends it to every client of the session.
func (h *Hub) push(id string) {
	targets := h.targets(id)
	if len(targets) == 0 {
		return
	}
	data, err := h.message(id)
	if errors.Is(err, store.ErrNotFound) {
		h.SessionClosed(id)
		return
	}
	if err != nil {
		slog.Warn("ws: analysis failed", "session", id, "err", err)
		return
	}
	for _, c := range h.send(targets, data) {
		// Outgoing buffer full: disconnect the slow client.
		h.unregister(c)
	}
}

// send queues data for every still-registered target and returns the
// clients whose buffer was full.
func (h *Hub) send(targets []*client, data []byte) (full []*client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range targets {
		if _, ok := h.clients[c]; !ok {
			continue
		}
		select {
		case c.send <- data:
		default:
			full = append(full, c)
		}
	}
	return full
}

func (h *Hub) message(id string) ([]byte, error) {
	sa, err := h.analyzer.Analyze(id)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Message{Event: EventAnalysis, SessionID: id, Data: sa})
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// writePump forwards queued messages to the connection and sends pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles control frames and detects disconnects.
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
