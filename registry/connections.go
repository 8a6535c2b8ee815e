package registry

import (
	"sync"

	"github.com/mevdschee/pgshim/model"
)

// ConnectionRegistry maps host database handles to connection records,
// and separately by filesystem path, for the "any library-style
// connection" lookups the host performs with context-free APIs
// (spec.md §4.6 "Connection registry").
type ConnectionRegistry struct {
	mu       sync.Mutex
	byHandle map[uintptr]*model.Connection
	byPath   map[string][]*model.Connection
}

// NewConnectionRegistry allocates an empty connection registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		byHandle: make(map[uintptr]*model.Connection),
		byPath:   make(map[string][]*model.Connection),
	}
}

// Insert registers conn under handle and indexes it by its path.
func (r *ConnectionRegistry) Insert(handle uintptr, conn *model.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byHandle[handle] = conn
	r.byPath[conn.Path] = append(r.byPath[conn.Path], conn)
}

// Lookup returns the connection registered under handle, if any.
func (r *ConnectionRegistry) Lookup(handle uintptr) (*model.Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byHandle[handle]
	return c, ok
}

// Remove drops handle and its path index entry.
func (r *ConnectionRegistry) Remove(handle uintptr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.byHandle[handle]
	if !ok {
		return
	}
	delete(r.byHandle, handle)
	list := r.byPath[conn.Path]
	for i, c := range list {
		if c == conn {
			r.byPath[conn.Path] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byPath[conn.Path]) == 0 {
		delete(r.byPath, conn.Path)
	}
}

// HandleOf finds the host handle a connection was registered under, for
// callers that start from the model.Connection (e.g. sqlite3_db_handle,
// which goes statement -> connection -> host handle).
func (r *ConnectionRegistry) HandleOf(conn *model.Connection) (uintptr, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h, c := range r.byHandle {
		if c == conn {
			return h, true
		}
	}
	return 0, false
}

// ByPath returns every known connection opened against path, most
// recently inserted last.
func (r *ConnectionRegistry) ByPath(path string) []*model.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := r.byPath[path]
	out := make([]*model.Connection, len(list))
	copy(out, list)
	return out
}

// ForThread implements spec.md §4.6's "find the currently-appropriate
// connection for this thread and path" helper, used when the incoming
// host handle does not uniquely identify the remote session (e.g. a
// last-insert-rowid call made before a handle has propagated). It
// prefers a connection already owned by ownerThread, falling back to
// the most recently registered connection for path.
func (r *ConnectionRegistry) ForThread(path string, ownerThread int) (*model.Connection, bool) {
	r.mu.Lock()
	list := r.byPath[path]
	candidates := make([]*model.Connection, len(list))
	copy(candidates, list)
	r.mu.Unlock()

	for _, c := range candidates {
		if c.OwnerThread == ownerThread {
			return c, true
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	return candidates[len(candidates)-1], true
}
