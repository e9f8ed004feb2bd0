package relay

import (
	"sync"

	"github.com/codefionn/relayd/internal/logger"
)

// Registry tracks the identity-to-connection mapping and the secondary
// mapping from an external correlation key (an upstream user id) to a client
// identity. All mutation happens behind one mutex; the registry is handed to
// the dispatcher and the server explicitly, never reached as ambient state.
type Registry struct {
	mu sync.RWMutex

	// identity -> live connection; last registration wins
	identities map[string]*Conn

	// correlation key -> identity; resolved lazily, so an entry may point at
	// an identity that is not registered yet
	correlations map[string]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		identities:   make(map[string]*Conn),
		correlations: make(map[string]string),
	}
}

// Register maps an identity to a connection, overwriting any previous holder
// of that identity. A connection holds at most one identity at a time: if the
// connection re-registers under a new name, its old entry is dropped first.
func (r *Registry) Register(c *Conn, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old := c.Identity(); old != "" && old != identity && r.identities[old] == c {
		delete(r.identities, old)
	}

	if prev, ok := r.identities[identity]; ok && prev != c {
		logger.Warn("Identity %q re-registered by connection %s (was %s)", identity, c.ID, prev.ID)
	}

	r.identities[identity] = c
	c.setIdentity(identity)
}

// Correlate maps an external key to an identity. Idempotent overwrite; the
// identity does not have to be registered yet.
func (r *Registry) Correlate(key, identity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.correlations[key] = identity
}

// Resolve returns the live connection registered under an identity.
func (r *Registry) Resolve(identity string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.identities[identity]
	return c, ok
}

// ResolveByCorrelation resolves key -> identity -> connection. It fails
// closed when either step misses.
func (r *Registry) ResolveByCorrelation(key string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identity, ok := r.correlations[key]
	if !ok {
		return nil, false
	}
	c, ok := r.identities[identity]
	return c, ok
}

// IdentityForKey returns the identity a correlation key maps to, whether or
// not that identity is currently registered.
func (r *Registry) IdentityForKey(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.correlations[key]
	return identity, ok
}

// Remove deletes the connection's identity entry and every correlation entry
// whose identity matches. Called exactly once per connection close. If the
// identity has since been re-registered by a newer connection, that newer
// mapping is left intact.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity := c.Identity()
	if identity == "" {
		return
	}
	if r.identities[identity] != c {
		return
	}

	delete(r.identities, identity)

	// O(n) reverse scan; client populations are small.
	for key, id := range r.correlations {
		if id == identity {
			delete(r.correlations, key)
		}
	}
}

// Count returns the number of registered identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}

// Clear drops every mapping. Used during server teardown.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identities = make(map[string]*Conn)
	r.correlations = make(map[string]string)
}
