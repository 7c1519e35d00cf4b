// Package mock provides a test double for the stt.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Text: "hello"}
//	text, _ := p.Transcribe(ctx, stt.Audio{PCM: pcm})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/chatrelay/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Audio is a copy of the audio passed to Transcribe.
	Audio stt.Audio
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Text, Err.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pcm := make([]byte, len(a.PCM))
	copy(pcm, a.PCM)
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Audio: stt.Audio{PCM: pcm, Format: a.Format}})
	if p.Err != nil {
		return "", p.Err
	}
	return p.Text, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// SetResult replaces Text and Err. Thread-safe.
func (p *Provider) SetResult(text string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Text = text
	p.Err = err
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}
