package services

import (
	"encoding/json"
	"log"
	"sync"
)

// Subscriber receives broadcast messages for one session. Send returning an
// error means the observer is unreachable and will be dropped from the
// registry.
type Subscriber interface {
	Send(message []byte) error
}

// Hub fans live updates out to per-session subscribers. It owns the only
// registry of live observers; nothing else in the process tracks them.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{sessions: make(map[string]map[Subscriber]struct{})}
}

// Subscribe registers an observer for a session's updates.
func (h *Hub) Subscribe(sessionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[Subscriber]struct{})
	}
	h.sessions[sessionID][sub] = struct{}{}
}

// Unsubscribe removes an observer. Unknown subscribers are a no-op.
func (h *Hub) Unsubscribe(sessionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}
}

// Publish delivers payload to every current subscriber of the session.
// Unreachable subscribers are removed, not treated as errors.
func (h *Hub) Publish(sessionID string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[Hub] failed to marshal message for session %s: %v", sessionID, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	for sub := range subs {
		if err := sub.Send(data); err != nil {
			delete(subs, sub)
		}
	}
	if len(subs) == 0 {
		delete(h.sessions, sessionID)
	}
}

// InvalidateSession drops every subscriber of a terminated session.
func (h *Hub) InvalidateSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}

// SubscriberCount reports the current number of observers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions[sessionID])
}
