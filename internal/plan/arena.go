package plan

import (
	"fmt"
	"sort"
	"sync"
)

// Arena owns the live planning sessions: a locked map from session id to
// session state, passed by handle to the operations that need it. Reads
// hand out deep copies; mutation goes through Update under the lock.
type Arena struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewArena creates an empty session arena.
func NewArena() *Arena {
	return &Arena{sessions: make(map[string]*Session)}
}

// Put stores a session, replacing any previous state under the same id.
func (a *Arena) Put(s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[s.ID] = s
}

// Snapshot returns a deep copy of a session.
func (a *Arena) Snapshot(id string) (*Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.sessions[id]
	if !ok {
		return nil, false
	}
	return cloneSession(s), true
}

// Update runs fn against the live session under the arena lock. The
// session is mutated only by what fn does; an error from fn is returned
// unchanged.
func (a *Arena) Update(id string, fn func(*Session) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[id]
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return fn(s)
}

// Delete removes a session, reporting whether it existed.
func (a *Arena) Delete(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.sessions[id]; !ok {
		return false
	}
	delete(a.sessions, id)
	return true
}

// IDs returns the session ids in sorted order.
func (a *Arena) IDs() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of live sessions.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.sessions)
}
