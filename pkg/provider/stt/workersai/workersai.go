// Package workersai provides an STT provider backed by the Cloudflare Workers
// AI Whisper models.
package workersai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	"github.com/MrWong99/chatrelay/pkg/provider/workersai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "@cf/openai/whisper"

var inputFormat = audio.Format{SampleRate: 16000, Channels: 1}

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider on top of a workersai.Client.
type Provider struct {
	client *workersai.Client
	model  string
}

// New creates a Provider. An empty model selects [DefaultModel].
func New(client *workersai.Client, model string) (*Provider, error) {
	if client == nil {
		return nil, errors.New("workersai stt: client must not be nil")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// Transcribe implements stt.Provider. The audio is uploaded as a WAV file in
// the request body; the recognised text is read from result.text, falling
// back to result.transcription for models that use that key.
func (p *Provider) Transcribe(ctx context.Context, a stt.Audio) (string, error) {
	if a.Empty() {
		return "", nil
	}
	wav := audio.EncodeWAV(stt.Normalize(a, inputFormat), inputFormat)

	resp, err := p.client.Run(ctx, p.model, bytes.NewReader(wav), "application/octet-stream")
	if err != nil {
		return "", fmt.Errorf("workersai stt: transcribe: %w", err)
	}
	defer resp.Body.Close()

	result, err := workersai.Result(resp.Body, resp.StatusCode)
	if err != nil {
		return "", fmt.Errorf("workersai stt: transcribe: %w", err)
	}
	text := result.Get("text").String()
	if text == "" {
		text = result.Get("transcription").String()
	}
	return strings.TrimSpace(text), nil
}
