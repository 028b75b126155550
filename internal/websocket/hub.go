package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
)

const TypeSessionRevoked = "session_revoked"

// Message is a notification pushed to a user's connections.
type Message struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id,omitempty"`
}

// Hub tracks live connections per user. It only knows about connections in
// this process.
type Hub struct {
	mu      sync.RWMutex
	clients map[int64]map[*Client]struct{}
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[int64]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	set, ok := h.clients[c.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[c.userID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client and closes its send channel. Safe to call twice.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	h.remove(c)
	h.mu.Unlock()
}

// remove must be called with h.mu held.
func (h *Hub) remove(c *Client) bool {
	set, ok := h.clients[c.userID]
	if !ok {
		return false
	}
	if _, ok := set[c]; !ok {
		return false
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	close(c.send)
	return true
}

// SessionsRevoked tells every connection of userID that its sessions are
// gone, then disconnects them.
func (h *Hub) SessionsRevoked(userID int64) {
	data, err := json.Marshal(Message{Type: TypeSessionRevoked, UserID: userID})
	if err != nil {
		h.logger.Error("marshal message", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0
	for c := range h.clients[userID] {
		select {
		case c.send <- data:
		default:
		}
		h.remove(c)
		n++
	}
	if n > 0 {
		h.logger.Info("disconnected revoked sessions", "user_id", userID, "connections", n)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, set := range h.clients {
		n += len(set)
	}
	return n
}
