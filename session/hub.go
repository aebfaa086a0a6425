package session

import "sync"

// Hub is the in-memory map of live authenticated sessions keyed by device
// id. It is mutated only on authenticate and disconnect; reads (targeted
// push, counts) are safe concurrently.
type Hub struct {
	mu       sync.RWMutex
	byDevice map[string]*Session
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{byDevice: make(map[string]*Session)}
}

// Bind registers the session under deviceID and returns any prior session
// for the same device, which the caller must close. One device, one
// session.
func (h *Hub) Bind(deviceID string, s *Session) (evicted *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	prior := h.byDevice[deviceID]
	h.byDevice[deviceID] = s
	if prior == s {
		return nil
	}
	return prior
}

// Remove drops the session from the map if it is still the bound one. A
// session evicted by a newer bind must not remove its replacement.
func (h *Hub) Remove(s *Session) {
	if s.DeviceID() == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.byDevice[s.DeviceID()] == s {
		delete(h.byDevice, s.DeviceID())
	}
}

// Get returns the live session for a device, or nil.
func (h *Hub) Get(deviceID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.byDevice[deviceID]
}

// Len returns the number of bound sessions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byDevice)
}
