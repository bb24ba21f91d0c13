// Package broadcast pushes session changes to websocket clients so a
// second screen can follow the viewer.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/Mr-Dark-debug/radview/internal/logging"
	"github.com/Mr-Dark-debug/radview/internal/session"
)

// Message types sent to clients.
const (
	MsgSnapshot = "snapshot"
	MsgChange   = "change"
)

// Message is the JSON envelope of every websocket frame.
type Message struct {
	Type    string         `json:"type"`
	Payload session.Change `json:"payload"`
}

// sendBuffer is how many frames a client may lag before it is dropped.
const sendBuffer = 64

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Hub fans session changes out to every connected client. Publish never
// blocks: a client whose buffer is full is disconnected.
type Hub struct {
	log *logging.Logger

	mu      sync.RWMutex
	clients map[*client]bool
	last    *session.Change

	upgrader websocket.Upgrader
}

// NewHub returns an empty hub.
func NewHub(log *logging.Logger) *Hub {
	if log == nil {
		log = logging.NopLogger()
	}
	return &Hub{
		log:     log.WithComponent("broadcast"),
		clients: make(map[*client]bool),
		upgrader: websocket.Upgrader{
			// the feed is read-only and served on a local address
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Attach seeds the snapshot from c and publishes its changes until the
// returned func is called.
func (h *Hub) Attach(c *session.Controller) func() {
	snap := c.Snapshot()
	h.mu.Lock()
	h.last = &snap
	h.mu.Unlock()
	return c.Watch(h.Publish)
}

// Publish records ch as the latest snapshot and sends it to every client.
func (h *Hub) Publish(ch session.Change) {
	h.mu.Lock()
	h.last = &ch
	h.mu.Unlock()
	h.broadcast(Message{Type: MsgChange, Payload: ch})
}

// Snapshot is the latest published change.
func (h *Hub) Snapshot() (session.Change, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.last == nil {
		return session.Change{}, false
	}
	return *h.last, true
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("broadcast marshal error", "error", err)
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("websocket client too slow, disconnecting")
		h.removeClient(c)
	}
}

func (h *Hub) addClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	// the snapshot is queued under the lock so no change can overtake it
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	if h.last != nil {
		if data, err := json.Marshal(Message{Type: MsgSnapshot, Payload: *h.last}); err == nil {
			c.send <- data
		}
	}
	return c
}

func (h *Hub) removeClient(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// ClientCount is the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Handler serves the feed on /ws and the latest snapshot on /api/session.
func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.handleWS)
	mux.HandleFunc("/api/session", h.handleSession)
	return mux
}

func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade error", "error", err)
		return
	}

	h.log.Debug("websocket client connected", "remote", r.RemoteAddr)
	c := h.addClient(conn)

	go func() {
		defer func() {
			h.removeClient(c)
			h.log.Debug("websocket client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) handleSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.Snapshot()
	if !ok {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}
