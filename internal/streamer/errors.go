package streamer

import "fmt"

// ModelInvocationError reports that the model call failed, either while
// opening the stream or while reading it. No assistant turn was persisted.
type ModelInvocationError struct {
	// Provider names the backend that failed.
	Provider string
	Err      error
}

func (e *ModelInvocationError) Error() string {
	return fmt.Sprintf("model invocation failed (%s): %v", e.Provider, e.Err)
}

func (e *ModelInvocationError) Unwrap() error { return e.Err }

// PersistenceError reports that the assistant turn could not be saved after
// the stream drained.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist assistant message: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
