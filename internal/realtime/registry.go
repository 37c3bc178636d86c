package realtime

import (
	"sort"
	"sync"

	"optiroute/internal/domain"
)

// Registry maps an authenticated subject to its single live connection.
// Binding a subject again replaces the previous connection without closing it.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ID]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: map[domain.ID]*Conn{}}
}

func (r *Registry) Bind(subject domain.ID, c *Conn) {
	r.mu.Lock()
	r.conns[subject] = c
	r.mu.Unlock()
}

// Unbind forgets whatever connection is bound to subject. No-op when unbound.
func (r *Registry) Unbind(subject domain.ID) {
	r.mu.Lock()
	delete(r.conns, subject)
	r.mu.Unlock()
}

// Release unbinds subject only while it is still bound to c, so closing a
// superseded connection does not drop the newer one.
func (r *Registry) Release(subject domain.ID, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.conns[subject]; ok && cur == c {
		delete(r.conns, subject)
		return true
	}
	return false
}

func (r *Registry) Lookup(subject domain.ID) (*Conn, bool) {
	r.mu.RLock()
	c, ok := r.conns[subject]
	r.mu.RUnlock()
	return c, ok
}

// Subjects returns a sorted snapshot of bound subject ids.
func (r *Registry) Subjects() []domain.ID {
	r.mu.RLock()
	out := make([]domain.ID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
