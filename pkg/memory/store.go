// Package memory defines the durable conversation state used by chatrelay
// agents and the Store interface that persistence backends implement.
//
// A conversation is keyed by a session key (the user id). Its whole history
// is stored as one [State] document and replaced on every save, so a backend
// never observes a partially applied turn.
//
// Backends:
//
//   - postgres: pgx connection pool, JSONB column.
//   - sqlite: pure-Go SQLite database file, TEXT column.
//   - [MemStore]: process-local map, lost on restart.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MrWong99/chatrelay/pkg/types"
)

// State is the persisted form of one conversation.
type State struct {
	// Memory is the ordered conversation history, oldest first.
	Memory []types.Message `json:"memory"`
}

// Clone returns a deep copy of s with a non-nil Memory slice.
func (s State) Clone() State {
	out := make([]types.Message, len(s.Memory))
	copy(out, s.Memory)
	return State{Memory: out}
}

// Store persists conversation state by session key.
type Store interface {
	// Load returns the state stored under key. An unknown key yields an empty
	// State and a nil error.
	Load(ctx context.Context, key string) (State, error)

	// Save replaces the state stored under key. The write is atomic: on
	// error the previously stored state is left untouched.
	Save(ctx context.Context, key string, state State) error
}

// Pinger is implemented by stores that hold a connection to an external
// database. Readiness checks use it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Encode renders s as the JSON document stored by the SQL backends. A nil
// history is written as an empty array.
func Encode(s State) ([]byte, error) {
	if s.Memory == nil {
		s.Memory = []types.Message{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("memory: encode state: %w", err)
	}
	return data, nil
}

// Decode parses a stored JSON document. Empty input decodes to an empty
// State.
func Decode(data []byte) (State, error) {
	var s State
	if len(data) > 0 {
		if err := json.Unmarshal(data, &s); err != nil {
			return State{}, fmt.Errorf("memory: decode state: %w", err)
		}
	}
	if s.Memory == nil {
		s.Memory = []types.Message{}
	}
	return s, nil
}
