// Package protocol defines the JSON envelopes exchanged with chat clients and
// the Sink abstraction that the streaming pipeline writes events to.
//
// Inbound frames are JSON text objects discriminated by "type". Outbound
// events carry exactly one of the fields relevant to their type; every
// response ends with exactly one [TypeComplete] or [TypeError] event.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/chatrelay/pkg/types"
)

// ErrMalformedEnvelope is returned by [ParseEnvelope] for frames that are not
// valid JSON objects or carry an unknown type.
var ErrMalformedEnvelope = errors.New("protocol: malformed envelope")

// Inbound envelope types.
const (
	TypeMessage         = "message"
	TypeAudioConnection = "audio_connection"
	TypeTranscribe      = "transcribe"
	TypeResetAudio      = "reset_audio"
)

// Outbound event types.
const (
	TypeStart    = "assistant_message_start"
	TypeChunk    = "assistant_message_chunk"
	TypeComplete = "assistant_message_complete"
	TypeError    = "error"
	TypeAudioAck = "audio_connection_ack"
)

// Adapter types carried by audio_connection envelopes.
const (
	AdapterIngest = "ingest"
	AdapterStream = "stream"
)

// Envelope is one inbound client frame.
type Envelope struct {
	Type        string `json:"type"`
	Message     string `json:"message,omitempty"`
	Content     string `json:"content,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	AdapterType string `json:"adapterType,omitempty"`
}

// Text returns the user text of a message envelope. "content" is accepted as
// an alias for "message".
func (e Envelope) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Content
}

// ParseEnvelope decodes and validates one inbound text frame. All failures
// wrap [ErrMalformedEnvelope].
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	switch env.Type {
	case TypeMessage:
		if strings.TrimSpace(env.Text()) == "" {
			return Envelope{}, fmt.Errorf("%w: message is empty", ErrMalformedEnvelope)
		}
	case TypeAudioConnection:
		if env.AdapterType != AdapterIngest && env.AdapterType != AdapterStream {
			return Envelope{}, fmt.Errorf("%w: unknown adapterType %q", ErrMalformedEnvelope, env.AdapterType)
		}
	case TypeTranscribe, TypeResetAudio:
	case "":
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	default:
		return Envelope{}, fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, env.Type)
	}
	return env, nil
}

// Event is one outbound server frame.
type Event struct {
	Type        string         `json:"type"`
	MessageID   string         `json:"messageId,omitempty"`
	Chunk       string         `json:"chunk,omitempty"`
	Message     *types.Message `json:"message,omitempty"`
	Error       string         `json:"error,omitempty"`
	AdapterType string         `json:"adapterType,omitempty"`
}

// Start announces a new assistant message.
func Start(messageID string) Event {
	return Event{Type: TypeStart, MessageID: messageID}
}

// Chunk carries one streamed fragment.
func Chunk(messageID, chunk string) Event {
	return Event{Type: TypeChunk, MessageID: messageID, Chunk: chunk}
}

// Complete carries the persisted assistant message.
func Complete(msg types.Message) Event {
	return Event{Type: TypeComplete, MessageID: msg.ID, Message: &msg}
}

// Error is the terminal failure event.
func Error(msg string) Event {
	return Event{Type: TypeError, Error: msg}
}

// AudioAck confirms an audio_connection request.
func AudioAck(adapterType string) Event {
	return Event{Type: TypeAudioAck, AdapterType: adapterType}
}

// Terminal reports whether e ends a response.
func (e Event) Terminal() bool {
	return e.Type == TypeComplete || e.Type == TypeError
}

// Sink receives outbound events in order. Implementations must be safe for
// use by one writer at a time; the pipeline never writes concurrently to the
// same sink.
type Sink interface {
	Send(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to [Sink].
type SinkFunc func(ctx context.Context, ev Event) error

// Send implements [Sink].
func (f SinkFunc) Send(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard is a Sink that drops every event. RPC turns use it.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })
