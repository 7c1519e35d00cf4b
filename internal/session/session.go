// Package session owns one user's linear conversation history.
//
// A Session hydrates lazily from a [memory.Store] the first time it is used
// and persists every mutation before committing it in memory, so the
// in-memory view never runs ahead of durable storage.
//
// All methods are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/chatrelay/pkg/memory"
	"github.com/MrWong99/chatrelay/pkg/types"
)

// Session is the in-memory mirror of one user's persisted history.
type Session struct {
	key   string
	store memory.Store

	mu      sync.Mutex
	loaded  bool
	history []types.Message
}

// New returns a Session bound to key. Nothing is read until the first call.
func New(key string, store memory.Store) *Session {
	return &Session{key: key, store: store}
}

// Key returns the storage key of the session.
func (s *Session) Key() string { return s.key }

// Read returns a copy of the history, loading it from the store on first use.
func (s *Session) Read(ctx context.Context) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hydrateLocked(ctx); err != nil {
		return nil, err
	}
	return slices.Clone(s.history), nil
}

// Append adds msg to the end of the history. The new history is saved before
// it becomes visible; when the save fails the session is left unchanged.
func (s *Session) Append(ctx context.Context, msg types.Message) ([]types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.hydrateLocked(ctx); err != nil {
		return nil, err
	}

	next := make([]types.Message, len(s.history), len(s.history)+1)
	copy(next, s.history)
	next = append(next, msg)

	if err := s.store.Save(ctx, s.key, memory.State{Memory: next}); err != nil {
		return nil, fmt.Errorf("session: append: %w", err)
	}
	s.history = next
	return slices.Clone(next), nil
}

// Clear persists an empty history and then resets the session.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, s.key, memory.State{Memory: []types.Message{}}); err != nil {
		return fmt.Errorf("session: clear: %w", err)
	}
	s.history = nil
	s.loaded = true
	return nil
}

// Len returns the number of committed messages without touching the store.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func (s *Session) hydrateLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	st, err := s.store.Load(ctx, s.key)
	if err != nil {
		return fmt.Errorf("session: load %q: %w", s.key, err)
	}
	s.history = st.Memory
	s.loaded = true
	return nil
}
