// Package registry tracks which users currently hold a live relay connection.
//
// A Registry maps each username to at most one Conn. It is the single source
// of truth for presence and is safe for concurrent use by every connection
// handler in the process.
package registry

import (
	"slices"
	"sync"

	"github.com/Tyrowin/directchat/internal/protocol"
	"github.com/samber/lo"
)

// Conn is the outbound half of a live client connection. Implementations must
// be comparable (typically a pointer) and safe to call from any goroutine.
type Conn interface {
	Send(ev protocol.Outbound) error
	Close(code int, reason string) error
}

// Registry is a mutex-guarded username to connection map.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{conns: make(map[string]Conn)}
}

// Register maps username to conn, replacing any existing entry. The replaced
// connection, if any, is returned so the caller can close it; the registry
// itself never closes connections.
func (r *Registry) Register(username string, conn Conn) Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.conns[username]
	r.conns[username] = conn
	if previous == conn {
		return nil
	}
	return previous
}

// Lookup returns the connection registered for username.
func (r *Registry) Lookup(username string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[username]
	return conn, ok
}

// Unregister removes the entry for username. Removing an absent entry is a
// no-op.
func (r *Registry) Unregister(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.conns, username)
}

// Release removes the entry for username only while it still points at conn,
// and reports whether it did. A connection that was superseded by a newer one
// releases nothing.
func (r *Registry) Release(username string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[username]; !ok || current != conn {
		return false
	}
	delete(r.conns, username)
	return true
}

// IsOnline reports whether username currently has a registered connection.
func (r *Registry) IsOnline(username string) bool {
	_, ok := r.Lookup(username)
	return ok
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.conns)
}

// Usernames returns the registered usernames in sorted order.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	names := lo.Keys(r.conns)
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}
