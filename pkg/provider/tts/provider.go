// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one complete assistant reply into audio. Audio is
// delivered incrementally on a channel so that the relay can forward the
// first bytes to the listener while later sentences are still being
// synthesised. Chunk sizes are chosen by the provider; the transport layer
// re-splits them to its frame limit.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text to audio and returns a channel that emits the
	// audio bytes in playback order. The channel is closed by the
	// implementation when synthesis is complete, when it fails part-way, or
	// when ctx is cancelled. Callers must drain the channel.
	//
	// The error return is non-nil only when synthesis could not be started.
	// Empty or whitespace-only text yields a closed channel and a nil error.
	Synthesize(ctx context.Context, text string) (<-chan []byte, error)
}

// Closed returns an already-closed audio channel. Providers use it for empty
// input.
func Closed() <-chan []byte {
	ch := make(chan []byte)
	close(ch)
	return ch
}
