// Package watch notifies in-process subscribers when an instance changes.
package watch

import "sync"

// Hub broadcasts instance changes. A subscriber takes the channel returned
// by Changed, re-reads the instance and then waits on the channel; the
// channel is closed by the next Notify for that instance.
type Hub struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func NewHub() *Hub {
	return &Hub{waiters: make(map[string]chan struct{})}
}

// Changed returns a channel closed on the next change of instanceID.
func (h *Hub) Changed(instanceID string) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.waiters[instanceID]
	if !ok {
		ch = make(chan struct{})
		h.waiters[instanceID] = ch
	}

	return ch
}

// Notify wakes every subscriber of instanceID.
func (h *Hub) Notify(instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.waiters[instanceID]
	if !ok {
		return
	}

	close(ch)
	delete(h.waiters, instanceID)
}

// Watched returns the number of instances with subscribers.
func (h *Hub) Watched() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.waiters)
}
