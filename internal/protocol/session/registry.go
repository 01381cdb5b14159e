package session

import (
	"sort"
	"sync"
)

// Registry tracks live connections by name.
type Registry struct {
	conns map[string]*Conn
	mu    sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Register adds c under its configured name, replacing any previous entry.
func (r *Registry) Register(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.Name()] = c
}

// Remove drops c if it is still the entry registered under its name.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.Name()] == c {
		delete(r.conns, c.Name())
	}
}

func (r *Registry) Get(name string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[name]
	return c, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stats returns a snapshot of every registered connection, sorted by name.
func (r *Registry) Stats() []Stats {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	out := make([]Stats, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CloseAll closes every registered connection.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()
	for _, c := range conns {
		_ = c.Close()
	}
}
