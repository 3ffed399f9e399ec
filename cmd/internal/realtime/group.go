package realtime

import (
	"sync"

	v1 "nearby/shared/contracts/realtime/v1"
)

// Group is the broadcast group of one room.
//
// Concurrency guarantees:
// - Join/Leave are safe under concurrent Broadcast.
// - Broadcast never blocks (drops under backpressure).
// - Broadcast is panic-safe because Client.Send is never closed by the server.
type Group struct {
	RoomID string

	mu      sync.RWMutex
	members map[string]*Client
}

func newGroup(roomID string) *Group {
	return &Group{
		RoomID:  roomID,
		members: make(map[string]*Client),
	}
}

func (g *Group) join(c *Client) {
	g.mu.Lock()
	g.members[c.ID] = c
	g.mu.Unlock()
}

// leave removes connID and reports how many members remain.
func (g *Group) leave(connID string) (removed bool, remaining int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, removed = g.members[connID]
	delete(g.members, connID)
	return removed, len(g.members)
}

// Len returns the current member count.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// broadcast fans env out to every member and returns how many deliveries were dropped.
// Clients that are shutting down are skipped without counting as drops.
func (g *Group) broadcast(env v1.Envelope) (delivered, dropped int) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, m := range g.members {
		if m == nil {
			continue
		}

		select {
		case <-m.Done():
			continue
		default:
		}

		select {
		case m.Send <- env:
			delivered++
		default:
			// Drop rather than block the whole room.
			dropped++
		}
	}
	return delivered, dropped
}
