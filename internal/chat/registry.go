package chat

import (
	"sync"

	"github.com/Tyrowin/roomchat/internal/metrics"
)

type binding struct {
	identity Identity
	bound    bool
}

// Registry binds live connections to identities. A connection is bound at
// most once and its identity never changes afterwards.
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*binding
	authn int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[ConnID]*binding)}
}

// Register records a new, unbound connection. Registering a known connection
// is a no-op.
func (r *Registry) Register(conn ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn]; !ok {
		r.conns[conn] = &binding{}
	}
}

// Bind attaches id to conn. It reports true on the first bind and false when
// conn is already bound to the same identity. Binding a different identity
// fails with ErrAlreadyBound; an unknown connection fails with ErrConnClosed.
func (r *Registry) Bind(conn ConnID, id Identity) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.conns[conn]
	if !ok {
		return false, ErrConnClosed
	}
	if b.bound {
		if b.identity.ID != id.ID {
			return false, ErrAlreadyBound
		}
		return false, nil
	}

	b.identity = id
	b.bound = true
	r.authn++
	metrics.AuthenticatedConnections.Inc()
	return true, nil
}

// IdentityOf returns the identity bound to conn.
func (r *Registry) IdentityOf(conn ConnID) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[conn]
	if !ok || !b.bound {
		return Identity{}, false
	}
	return b.identity, true
}

// Unbind forgets conn and returns the identity it carried, if any.
func (r *Registry) Unbind(conn ConnID) (Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.conns[conn]
	if !ok {
		return Identity{}, false
	}
	delete(r.conns, conn)
	if b.bound {
		r.authn--
		metrics.AuthenticatedConnections.Dec()
	}
	return b.identity, b.bound
}

// Len is the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Authenticated is the number of bound connections.
func (r *Registry) Authenticated() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.authn
}
