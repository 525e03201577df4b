package registry

import (
	"context"
	"sync"
)

// MemoryRegistry is a mutex-guarded in-process registry. It is the default
// backend for development and tests; a single-instance gateway can run on
// it in production since the hub and registry share a process anyway.
type MemoryRegistry struct {
	mu    sync.RWMutex
	conns map[string]Connection
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		conns: make(map[string]Connection),
	}
}

// Put upserts a connection entry.
func (r *MemoryRegistry) Put(ctx context.Context, conn Connection) error {
	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()
	return nil
}

// Delete removes a connection entry. Absent ids are a no-op.
func (r *MemoryRegistry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.conns, id)
	r.mu.Unlock()
	return nil
}

// List returns a snapshot of all entries.
func (r *MemoryRegistry) List(ctx context.Context) ([]Connection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, conn)
	}
	return out, nil
}
