package ws

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Hub tracks the telephony connections currently attached to the server so
// they can be closed together on shutdown.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

func NewHub() *Hub {
	return &Hub{conns: map[string]*Conn{}}
}

// Add registers c under id. It refuses while another open connection holds
// the id, so a rejected duplicate never displaces the live leg.
func (h *Hub) Add(id string, c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.conns[id]; ok && old != c {
		select {
		case <-old.Done():
		default:
			return false
		}
	}
	h.conns[id] = c
	return true
}

func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.RLock()
	c, ok := h.conns[id]
	h.mu.RUnlock()
	return c, ok
}

// Remove drops id only while it still maps to c, so a late remove cannot
// evict a newer connection.
func (h *Hub) Remove(id string, c *Conn) {
	h.mu.Lock()
	if h.conns[id] == c {
		delete(h.conns, id)
	}
	h.mu.Unlock()
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) CloseAll(reason string) {
	h.mu.Lock()
	conns := h.conns
	h.conns = map[string]*Conn{}
	h.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.CloseGoingAway, reason)
	}
}
