package realtime

import (
	"maps"
	"slices"
	"sync"

	v1 "nearby/shared/contracts/realtime/v1"
)

// Client represents one connected websocket.
//
// Design notes:
// - Send is intentionally NOT closed by the server to avoid panics from concurrent broadcasters.
// - done is used to signal goroutines to stop.
// - Close is idempotent.
// - username and rooms are the per-connection attachment state; they live and die with the Client.
type Client struct {
	ID   string
	Send chan v1.Envelope

	done      chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	username *string
	rooms    map[string]struct{}
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(id string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ID:    id,
		Send:  make(chan v1.Envelope, sendQueueSize),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
// It does NOT close Send to keep broadcast safe under concurrency.
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// Username returns a copy of the attached username, or nil for anonymous.
func (c *Client) Username() *string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.username == nil {
		return nil
	}
	u := *c.username
	return &u
}

// SetUsername overwrites the attached username. nil clears it.
func (c *Client) SetUsername(u *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u == nil {
		c.username = nil
		return
	}
	v := *u
	c.username = &v
}

func (c *Client) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rooms[roomID]; !ok {
		return false
	}
	delete(c.rooms, roomID)
	return true
}

// Rooms lists the rooms this client is subscribed to, sorted.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Sorted(maps.Keys(c.rooms))
}

// enqueue is a non-blocking send; false means the client is gone or its queue is full.
func (c *Client) enqueue(env v1.Envelope) bool {
	if c.closed() {
		return false
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
