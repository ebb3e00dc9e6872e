// Package realtime wakes long-poll readers when a chat changes.
package realtime

import (
	"context"
	"sync"
)

// Hub tracks parked readers per chat. A notification closes every channel
// handed out for that chat; readers re-subscribe after waking.
type Hub struct {
	mu      sync.Mutex
	waiters map[string]map[chan struct{}]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{waiters: make(map[string]map[chan struct{}]struct{})}
}

// Subscribe returns a channel closed on the next change to chatID, and a
// cancel func that must be called if the caller stops waiting first.
func (h *Hub) Subscribe(chatID string) (<-chan struct{}, func()) {
	ch := make(chan struct{})

	h.mu.Lock()
	set, ok := h.waiters[chatID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.waiters[chatID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.waiters[chatID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.waiters, chatID)
			}
		}
	}
	return ch, cancel
}

// Broadcast wakes every local reader of chatID.
func (h *Hub) Broadcast(chatID string) {
	h.mu.Lock()
	set := h.waiters[chatID]
	delete(h.waiters, chatID)
	h.mu.Unlock()

	for ch := range set {
		close(ch)
	}
}

// ChatUpdated wakes local readers.
func (h *Hub) ChatUpdated(ctx context.Context, chatID string) {
	h.Broadcast(chatID)
}

// Waiting returns the number of parked readers for chatID.
func (h *Hub) Waiting(chatID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.waiters[chatID])
}
