package ws

import (
	"errors"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/udisondev/xrayguard/internal/obfcache"
	"github.com/udisondev/xrayguard/internal/voxel"
)

// ErrClientNotFound is returned when sending to an unknown player.
var ErrClientNotFound = errors.New("client not found")

// Hub routes payloads to connected clients by player id.
type Hub struct {
	mu      sync.RWMutex
	clients map[obfcache.PlayerID]*Client
}

func NewHub() *Hub {
	return &Hub{clients: make(map[obfcache.PlayerID]*Client)}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
}

func (h *Hub) Unregister(id obfcache.PlayerID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Get returns the client for id or nil.
func (h *Hub) Get(id obfcache.PlayerID) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) send(id obfcache.PlayerID, payload []byte) error {
	c := h.Get(id)
	if c == nil {
		return fmt.Errorf("player %d: %w", id, ErrClientNotFound)
	}
	return c.Send(websocket.BinaryMessage, payload)
}

// SendRegionSnapshot implements pipeline.Sink.
func (h *Hub) SendRegionSnapshot(player obfcache.PlayerID, _ voxel.RegionKey, payload []byte) error {
	return h.send(player, payload)
}

// SendBlockChange implements pipeline.Sink.
func (h *Hub) SendBlockChange(player obfcache.PlayerID, _ voxel.Pos, payload []byte) error {
	return h.send(player, payload)
}
