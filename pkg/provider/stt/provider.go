// Package stt defines the Provider interface for speech-to-text backends.
//
// The relay transcribes whole utterances: PCM accumulates in the ingest buffer
// until the client asks for a transcription, then the buffered audio is sent
// to the provider in one request. Providers convert the audio to whatever
// format their backend expects.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/MrWong99/chatrelay/pkg/audio"
)

// Audio is one utterance of raw PCM together with its format.
type Audio struct {
	// PCM is 16-bit signed little-endian audio, interleaved for stereo.
	PCM []byte

	// Format describes PCM. Providers treat a zero Format as 16 kHz mono.
	Format audio.Format
}

// Empty reports whether there is no audio to transcribe.
func (a Audio) Empty() bool {
	return len(a.PCM) == 0
}

// Provider is the abstraction over any speech-to-text backend.
type Provider interface {
	// Transcribe returns the text recognised in a. Silence or unintelligible
	// audio yields an empty string and a nil error. A non-nil error means the
	// backend could not be reached or rejected the request.
	Transcribe(ctx context.Context, a Audio) (string, error)
}

// DefaultFormat is the format assumed for Audio without one.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Normalize returns a's PCM converted to target, filling in DefaultFormat for
// a zero source format.
func Normalize(a Audio, target audio.Format) []byte {
	from := a.Format
	if !from.Valid() {
		from = DefaultFormat
	}
	return audio.Convert(a.PCM, from, target)
}
