// Package registry tracks the single canonical live connection per user id.
// It is the only path other components use to reach a user; no component
// holds a direct reference to another connection's state.
package registry

import (
	"encoding/json"
	"sync"
)

const sendBuffer = 256

// Client is the send capability for one live transport connection. ID is the
// connection's own identity (a ksuid), distinct from the user id that is
// associated only after the client identifies itself. UserID is written by
// the connection's read loop and must not be mutated elsewhere.
type Client struct {
	ID     string
	UserID string

	mu     sync.RWMutex
	send   chan []byte
	closed bool
}

// NewClient returns a client handle with a buffered outbound queue.
func NewClient(id string) *Client {
	return &Client{
		ID:   id,
		send: make(chan []byte, sendBuffer),
	}
}

// Outbound exposes the queue drained by the connection's write pump.
func (c *Client) Outbound() <-chan []byte { return c.send }

// Enqueue marshals msg and queues it without blocking. It reports false when
// the client is closed or its buffer is full; the caller treats either as an
// unreachable peer.
func (c *Client) Enqueue(msg any) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}
	return c.EnqueueRaw(data)
}

// EnqueueRaw queues pre-encoded bytes without blocking.
func (c *Client) EnqueueRaw(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close marks the client dead and releases its write pump. Safe to call more
// than once; Enqueue after Close is a no-op.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Alive reports whether the client can still accept outbound messages.
func (c *Client) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Registry maps user ids to their canonical connection. A new registration
// for a user replaces the old one (last-write-wins); removal is keyed on the
// connection id so a stale connection's teardown can never evict a newer
// connection for the same user.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

// Register makes client the canonical connection for userID and returns the
// handle it displaced, if any.
func (r *Registry) Register(userID string, client *Client) *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.clients[userID]
	if prev == client {
		return nil
	}
	r.clients[userID] = client
	return prev
}

// Lookup returns the canonical connection for userID.
func (r *Registry) Lookup(userID string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[userID]
	return c, ok
}

// Remove deregisters userID only if connID still owns the entry. It reports
// whether an entry was removed.
func (r *Registry) Remove(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[userID]
	if !ok || c.ID != connID {
		return false
	}
	delete(r.clients, userID)
	return true
}

// Snapshot returns the current set of registered clients. The slice is a
// copy; callers may send on the handles without holding any registry lock.
func (r *Registry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
