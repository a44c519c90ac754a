package orchestrator

import (
	"sort"
	"sync"
)

// Registry is the concurrency-safe map of active live sessions. An id is
// present while its transcoder runs or its cleanup is pending.
type Registry struct {
	mu       sync.RWMutex
	sessions map[StreamID]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[StreamID]*Session)}
}

// Lookup returns the session for id, if any.
func (r *Registry) Lookup(id StreamID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Insert adds s unless its id is already taken, in which case it returns
// ErrSessionExists and leaves the existing entry untouched.
func (r *Registry) Insert(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return ErrSessionExists
	}
	r.sessions[s.ID] = s
	return nil
}

// Remove deletes the entry for id. Removing a missing id is a no-op.
func (r *Registry) Remove(id StreamID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// RemoveIf deletes the entry for id only if it is still s.
func (r *Registry) RemoveIf(id StreamID, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[id]; ok && cur == s {
		delete(r.sessions, id)
		return true
	}
	return false
}

// Sessions returns a snapshot of all entries ordered by id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of entries. Used for metrics.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Drain atomically removes and returns every entry.
func (r *Registry) Drain() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		out = append(out, s)
		delete(r.sessions, id)
	}
	return out
}
