package catalog

import (
	"context"
	"sort"
	"sync"
)

// Compile-time interface check.
var _ Accessor = (*MemoryAccessor)(nil)

// MemoryAccessor implements Accessor in memory. Used in tests and paper-mode
// sessions that do not need universes to survive a restart.
type MemoryAccessor struct {
	mu        sync.RWMutex
	universes map[string]*Universe
}

// NewMemoryAccessor creates an empty in-memory accessor.
func NewMemoryAccessor() *MemoryAccessor {
	return &MemoryAccessor{universes: make(map[string]*Universe)}
}

// Get loads a copy of the universe with the given name, or an empty universe
// for an unknown name.
func (m *MemoryAccessor) Get(_ context.Context, name string) (*Universe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.universes[name]; ok {
		return NewUniverse(name, u.Instruments()...), nil
	}
	return NewUniverse(name), nil
}

// Update replaces the stored universe with a copy of u.
func (m *MemoryAccessor) Update(_ context.Context, u *Universe) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.universes[u.Name] = NewUniverse(u.Name, u.Instruments()...)
	return nil
}

// List returns copies of all stored universes in name order.
func (m *MemoryAccessor) List(_ context.Context) ([]*Universe, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.universes))
	for name := range m.universes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Universe, 0, len(names))
	for _, name := range names {
		u := m.universes[name]
		out = append(out, NewUniverse(u.Name, u.Instruments()...))
	}
	return out, nil
}
