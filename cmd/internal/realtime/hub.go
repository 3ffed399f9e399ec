package realtime

import (
	"log/slog"
	"sync"

	v1 "nearby/shared/contracts/realtime/v1"
)

// Hub owns the in-memory broadcast groups keyed by room id.
// Groups are created on first subscribe and dropped when their last member leaves.
type Hub struct {
	log *slog.Logger

	mu     sync.RWMutex
	groups map[string]*Group
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		log:    log,
		groups: make(map[string]*Group),
	}
}

// Subscribe adds c to roomID's group and reports whether it is a member afterwards.
// A closed client is refused; the check runs under h.mu so it cannot interleave with UnsubscribeAll.
func (h *Hub) Subscribe(roomID string, c *Client) bool {
	if c == nil || c.ID == "" || roomID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if c.closed() {
		return false
	}
	g, ok := h.groups[roomID]
	if !ok {
		g = newGroup(roomID)
		h.groups[roomID] = g
	}
	g.join(c)
	c.addRoom(roomID)

	h.log.Debug("room.member.join", "room_id", roomID, "conn_id", c.ID)
	return true
}

// Unsubscribe removes c from roomID's group and reports whether it was a member.
func (h *Hub) Unsubscribe(roomID string, c *Client) bool {
	if c == nil || roomID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.unsubscribeLocked(roomID, c)
}

// UnsubscribeAll drops c from every group it joined.
func (h *Hub) UnsubscribeAll(c *Client) {
	if c == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, roomID := range c.Rooms() {
		h.unsubscribeLocked(roomID, c)
	}
}

func (h *Hub) unsubscribeLocked(roomID string, c *Client) bool {
	c.removeRoom(roomID)

	g, ok := h.groups[roomID]
	if !ok {
		return false
	}
	removed, remaining := g.leave(c.ID)
	if remaining == 0 {
		delete(h.groups, roomID)
	}
	if removed {
		h.log.Debug("room.member.leave", "room_id", roomID, "conn_id", c.ID)
	}
	return removed
}

// Broadcast delivers env to every member of roomID. An unknown room delivers nothing.
func (h *Hub) Broadcast(roomID string, env v1.Envelope) (delivered, dropped int) {
	h.mu.RLock()
	g := h.groups[roomID]
	h.mu.RUnlock()

	if g == nil {
		return 0, 0
	}
	return g.broadcast(env)
}

// Members returns the member count of roomID's group.
func (h *Hub) Members(roomID string) int {
	h.mu.RLock()
	g := h.groups[roomID]
	h.mu.RUnlock()

	if g == nil {
		return 0
	}
	return g.Len()
}
