// Package types defines the data shared between the conversation layers of
// chatrelay: the session store, the response streamer, the agent and the wire
// protocol.
//
// Only cross-cutting structures live here. Each package keeps its own domain
// types so that the dependency graph stays acyclic.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	// RoleUser marks a turn written (or spoken) by the human participant.
	RoleUser Role = "user"

	// RoleAssistant marks a turn produced by the language model.
	RoleAssistant Role = "assistant"

	// RoleSystem marks an instruction turn. System turns are never persisted by
	// the relay itself but may appear in imported histories.
	RoleSystem Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	default:
		return false
	}
}

// Message is a single turn in a conversation history.
//
// Messages are immutable once appended: the session layer hands out copies and
// never edits a stored turn in place.
type Message struct {
	// ID uniquely identifies the message. Assistant messages reuse the id that
	// was announced in the streaming start event.
	ID string `json:"id"`

	// Role is the author of the turn.
	Role Role `json:"role"`

	// Content is the full text of the turn. Empty content is valid.
	Content string `json:"content"`

	// Timestamp is the creation time in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewMessage returns a Message with a fresh UUID and the current time.
func NewMessage(role Role, content string) Message {
	return NewMessageWithID(uuid.NewString(), role, content)
}

// NewMessageWithID returns a Message carrying id and the current time.
func NewMessageWithID(id string, role Role, content string) Message {
	return Message{
		ID:        id,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Time converts the message timestamp to a [time.Time].
func (m Message) Time() time.Time {
	return time.UnixMilli(m.Timestamp)
}
