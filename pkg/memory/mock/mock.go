// Package mock provides an in-memory test double for [memory.Store].
//
// The mock records every method call for assertion in tests and exposes
// exported fields that inject errors. It is safe for concurrent use via an
// internal [sync.Mutex].
//
// Typical usage:
//
//	store := mock.NewStore()
//	store.SaveErr = errors.New("disk full")
//
//	// inject store into the system under test …
//
//	if got := store.CallCount("Save"); got != 1 {
//	    t.Errorf("expected 1 Save call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chatrelay/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.Store  = (*Store)(nil)
	_ memory.Pinger = (*Store)(nil)
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [memory.Store]. States saved
// successfully are kept in memory and returned by later loads.
type Store struct {
	mu sync.Mutex

	calls  []Call
	states map[string]memory.State

	// LoadErr is returned by [Store.Load] when non-nil.
	LoadErr error

	// SaveErr is returned by [Store.Save] when non-nil. The stored state is
	// left unchanged.
	SaveErr error

	// PingErr is returned by [Store.Ping] when non-nil.
	PingErr error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{states: make(map[string]memory.State)}
}

// Seed stores state under key without recording a call.
func (m *Store) Seed(key string, state memory.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.states == nil {
		m.states = make(map[string]memory.State)
	}
	m.states[key] = state.Clone()
}

// Stored returns the state currently held for key.
func (m *Store) Stored(key string) (memory.State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.states[key]
	return s.Clone(), ok
}

// Load implements [memory.Store].
func (m *Store) Load(_ context.Context, key string) (memory.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Load", Args: []any{key}})
	if m.LoadErr != nil {
		return memory.State{}, m.LoadErr
	}
	return m.states[key].Clone(), nil
}

// Save implements [memory.Store].
func (m *Store) Save(_ context.Context, key string, state memory.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Save", Args: []any{key, state.Clone()}})
	if m.SaveErr != nil {
		return m.SaveErr
	}
	if m.states == nil {
		m.states = make(map[string]memory.State)
	}
	m.states[key] = state.Clone()
	return nil
}

// Ping implements [memory.Pinger].
func (m *Store) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Ping"})
	return m.PingErr
}

// SetSaveErr sets SaveErr under the mutex.
func (m *Store) SetSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SaveErr = err
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls. Stored states are kept.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}
