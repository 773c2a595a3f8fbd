package session

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrDuplicateSession means a call id is already registered.
	ErrDuplicateSession = errors.New("session: duplicate session id")

	// ErrSessionNotFound means no session exists for the call id.
	ErrSessionNotFound = errors.New("session: not found")
)

// Registry tracks live sessions keyed by call id. One registry per process.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Create builds and registers a session under id. build runs under the
// registry lock so a duplicate StasisStart for the same call can never
// produce two sessions.
func (r *Registry) Create(id string, build func() (*Session, error)) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateSession, id)
	}
	s, err := build()
	if err != nil {
		return nil, err
	}
	r.sessions[id] = s
	return s, nil
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Remove ends the session for id and drops it from the registry. Idempotent:
// removing an unknown id is a no-op, and ending an already-ended session does
// nothing, so a hangup racing an internal error is harmless.
func (r *Registry) Remove(id string, reason error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		s.End(reason)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of all live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
