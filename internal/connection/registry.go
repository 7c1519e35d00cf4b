// Package connection tracks which live connections belong to an agent and
// what each one is for.
package connection

import (
	"fmt"
	"sync"
)

// Role is the purpose of a connection.
type Role int

const (
	// Chat connections carry text envelopes and receive streamed replies.
	Chat Role = iota
	// AudioIngest connections send raw PCM frames.
	AudioIngest
	// AudioStream connections receive synthesized speech.
	AudioStream
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case Chat:
		return "chat"
	case AudioIngest:
		return "ingest"
	case AudioStream:
		return "stream"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// ParseRole maps an adapterType value to a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case "ingest":
		return AudioIngest, nil
	case "stream":
		return AudioStream, nil
	case "chat":
		return Chat, nil
	default:
		return Chat, fmt.Errorf("connection: unknown role %q", s)
	}
}

// Registry maps connection handles to roles. It is safe for concurrent use.
type Registry[H comparable] struct {
	mu    sync.RWMutex
	roles map[H]Role
}

// NewRegistry returns an empty Registry.
func NewRegistry[H comparable]() *Registry[H] {
	return &Registry[H]{roles: make(map[H]Role)}
}

// Register records h with the given role, replacing any previous role.
func (r *Registry[H]) Register(h H, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[h] = role
}

// Lookup returns the role of h.
func (r *Registry[H]) Lookup(h H) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[h]
	return role, ok
}

// Unregister forgets h. Unknown handles are ignored.
func (r *Registry[H]) Unregister(h H) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.roles, h)
}

// Handles returns every handle currently registered with role, in no
// particular order.
func (r *Registry[H]) Handles(role Role) []H {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []H
	for h, got := range r.roles {
		if got == role {
			out = append(out, h)
		}
	}
	return out
}

// Len returns the number of registered handles.
func (r *Registry[H]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.roles)
}
