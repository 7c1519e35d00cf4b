package llm

import "github.com/MrWong99/chatrelay/pkg/types"

// Turn is a single entry of the conversation sent to the model.
type Turn struct {
	// Role is the author of the turn.
	Role types.Role

	// Content is the text of the turn.
	Content string
}

// TurnsFromHistory maps stored messages to model turns, preserving order.
// System messages found in the history are passed through unchanged.
func TurnsFromHistory(history []types.Message) []Turn {
	turns := make([]Turn, 0, len(history))
	for _, m := range history {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last entry is usually
	// the user turn that drives the reply.
	Messages []Turn

	// SystemPrompt is an optional instruction placed before the history.
	// Backends without a dedicated system field prepend it as a system turn.
	SystemPrompt string

	// Temperature controls output randomness. Zero leaves the backend default.
	Temperature float64

	// MaxTokens caps the generated tokens. Zero leaves the backend default.
	MaxTokens int
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	// Content is the full text of the reply.
	Content string
}
