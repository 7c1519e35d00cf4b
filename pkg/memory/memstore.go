package memory

import (
	"context"
	"sync"
)

// Compile-time interface assertion.
var _ Store = (*MemStore)(nil)

// MemStore is a process-local [Store]. State does not survive a restart.
type MemStore struct {
	mu     sync.RWMutex
	states map[string]State
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{states: make(map[string]State)}
}

// Load implements [Store].
func (m *MemStore) Load(_ context.Context, key string) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[key].Clone(), nil
}

// Save implements [Store].
func (m *MemStore) Save(_ context.Context, key string, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[key] = state.Clone()
	return nil
}
