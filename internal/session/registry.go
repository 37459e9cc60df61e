package session

import (
	"sync"
	"time"

	"github.com/opsgate/jitterm/internal/shared/id"
)

// Registry is the authoritative in-memory map of live sessions. It also
// tracks in-flight creations per owner, so the quota check and the eventual
// insert are atomic without holding the lock across the PTY spawn.
type Registry struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*Session
	pending  map[string]int // ownerID -> creations in flight
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[id.SessionID]*Session),
		pending:  make(map[string]int),
	}
}

// Reserve claims a creation slot for the owner if active sessions plus
// in-flight creations stay below max. The slot must be resolved with Commit
// or Release.
func (r *Registry) Reserve(ownerID string, max int, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := r.pending[ownerID]
	for _, s := range r.sessions {
		if s.Owner.ID() == ownerID && s.isActiveAt(now) {
			count++
		}
	}
	if count >= max {
		return ErrQuotaExceeded
	}

	r.pending[ownerID]++
	return nil
}

// Commit consumes the owner's reserved slot and inserts the session.
func (r *Registry) Commit(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.release(s.Owner.ID())
	r.sessions[s.ID] = s
}

// Release frees a reserved slot after a failed creation.
func (r *Registry) Release(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(ownerID)
}

func (r *Registry) release(ownerID string) {
	if r.pending[ownerID] <= 1 {
		delete(r.pending, ownerID)
		return
	}
	r.pending[ownerID]--
}

// Get looks up a session by ID.
func (r *Registry) Get(sessionID id.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[sessionID]
	return s, ok
}

// Remove deletes a session from the registry.
func (r *Registry) Remove(sessionID id.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sessionID)
}

// List returns a snapshot of all registered sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
