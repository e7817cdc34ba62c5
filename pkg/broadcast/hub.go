// Package broadcast fans revocation announcements out to in-process
// subscribers: the WebSocket bridge, caches, and anything else that needs
// to learn about a revocation the moment it commits.
package broadcast

import (
	"sync"
	"time"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that falls
// this far behind starts dropping messages rather than blocking publishers.
const subscriberBuffer = 16

// Revocation is one credential revocation announcement.
type Revocation struct {
	CredentialID string    `json:"credential_id"`
	AgentID      string    `json:"agent_id"`
	IssuerID     string    `json:"issuer_id"`
	Reason       string    `json:"reason"`
	RevokedAt    time.Time `json:"revoked_at"`
}

// Hub is an in-process publish/subscribe fan-out. The zero value is not
// usable; construct with NewHub.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Revocation
	nextID int
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Revocation)}
}

// Subscribe registers a new subscriber and returns its channel plus a
// cancel function. The channel is closed when cancel is called or the hub
// shuts down.
func (h *Hub) Subscribe() (<-chan Revocation, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Revocation, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}

	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the revocation to every subscriber. Delivery is
// non-blocking: a full subscriber buffer drops the message for that
// subscriber only.
func (h *Hub) Publish(rev Revocation) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- rev:
		default:
		}
	}
}

// Len reports the current subscriber count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close shuts down the hub and closes all subscriber channels. Subsequent
// Publish calls are no-ops and subsequent Subscribe calls return a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
