package web

import (
	"context"
	"sync"
)

// Hub maintains the set of live host-side connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Conn]struct{}
}

// NewHub creates a new hub
func NewHub() *Hub {
	return &Hub{conns: make(map[*Conn]struct{})}
}

// Register adds an upgraded connection.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	log.Debug("Client registered: %s", c.ClientID())
}

// Unregister removes a connection.
func (h *Hub) Unregister(c *Conn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()
	if ok {
		log.Debug("Client unregistered: %s", c.ClientID())
	}
}

// IDs returns the client ids of the live connections.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.conns))
	for c := range h.conns {
		ids = append(ids, c.ClientID())
	}
	return ids
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll disconnects every live connection.
func (h *Hub) CloseAll(ctx context.Context) {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.Disconnect(ctx); err != nil {
			log.Warn("Failed to close client %s: %v", c.ClientID(), err)
		}
	}
}
