package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the process-local presence map: which users currently have
// live connections. A user may hold several connections (two browser tabs);
// a connection is registered under at most one user, fixed at announce time.
// Nothing here is durable; a restart empties the registry.
type Registry struct {
	mu     sync.RWMutex
	byUser map[uuid.UUID]map[*Connection]struct{}
	byConn map[*Connection]uuid.UUID
}

// NewRegistry constructs an initialized Registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[uuid.UUID]map[*Connection]struct{}),
		byConn: make(map[*Connection]uuid.UUID),
	}
}

// Announce registers conn under userID. Announcing an already-registered
// connection is a no-op: the identity bound first wins.
func (r *Registry) Announce(userID uuid.UUID, conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, bound := r.byConn[conn]; bound {
		return
	}

	set := r.byUser[userID]
	if set == nil {
		set = make(map[*Connection]struct{})
		r.byUser[userID] = set
	}
	set[conn] = struct{}{}
	r.byConn[conn] = userID
}

// Lookup returns the live connections for userID, or nil if the user has
// none. The slice is a snapshot; callers may not mutate registry state
// through it.
func (r *Registry) Lookup(userID uuid.UUID) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	conns := make([]*Connection, 0, len(set))
	for conn := range set {
		conns = append(conns, conn)
	}
	return conns
}

// Forget removes conn from whichever user it was announced under, determined
// by reverse lookup. Removing the last connection for a user drops the
// user's entry entirely.
func (r *Registry) Forget(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)

	set := r.byUser[userID]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// Online reports whether userID has at least one live connection.
func (r *Registry) Online(userID uuid.UUID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}

// CloseAll terminates every registered connection and clears the registry.
// Used on shutdown.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	conns := make([]*Connection, 0, len(r.byConn))
	for conn := range r.byConn {
		conns = append(conns, conn)
	}
	r.byUser = make(map[uuid.UUID]map[*Connection]struct{})
	r.byConn = make(map[*Connection]uuid.UUID)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.Close(code, reason)
	}
}
