package runtime

import (
	"sync"
	"trade-chat/contract"
)

var _ contract.IRegistry = (*Registry)(nil)

// Registry maps each connected user to their single live sink.
// A user has at most one session: a new connection replaces the previous one.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]contract.EventSink // map user -> Sink
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]contract.EventSink)}
}

// SinkFor returns the live sink of userID, false when the user is offline.
func (r *Registry) SinkFor(userID string) (contract.EventSink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sink, ok := r.sessions[userID]
	return sink, ok
}

// Subscribe registers the active connection of a user and hands back the
// older one it replaced so the caller can close it.
func (r *Registry) Subscribe(userID string, sink contract.EventSink) (contract.EventSink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, replaced := r.sessions[userID]
	r.sessions[userID] = sink
	return previous, replaced && previous != sink
}

// Unsubscribe removes the session only if it is still the given sink,
// so a closing stale connection cannot evict the one that replaced it.
func (r *Registry) Unsubscribe(userID string, sink contract.EventSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[userID]; ok && current == sink {
		delete(r.sessions, userID)
	}
}

// Online is the number of connected users.
func (r *Registry) Online() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
