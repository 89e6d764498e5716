// Package clients keeps track of which client names hold an authenticated
// session in this process.
package clients

import (
	"sync"

	"github.com/ahrav/reg-armada/internal/domain/registration"
)

// Registry maps client names to their authenticated session. It is owned by
// the top-level command, so it spans every run started in the process.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*registration.Session
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registration.Session)}
}

// Register records session under its client name. A second, different session
// for a name that already holds one is rejected with ErrSessionExists.
// Registering the same session twice is a no-op.
func (r *Registry) Register(session *registration.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byName[session.ClientName()]; ok && existing != session {
		return registration.ErrSessionExists
	}
	r.byName[session.ClientName()] = session
	return nil
}

// Remove forgets the session for name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
