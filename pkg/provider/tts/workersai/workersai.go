// Package workersai provides a TTS provider backed by the Cloudflare Workers
// AI MeloTTS model.
//
// MeloTTS answers either with a JSON envelope carrying base64 audio or, when
// the account is configured for binary output, with the audio bytes
// directly. Both shapes are handled; the encoded audio (MP3) is forwarded
// untouched in transport-sized chunks.
package workersai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/provider/tts"
	"github.com/MrWong99/chatrelay/pkg/provider/workersai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "@cf/myshell-ai/melotts"

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider on top of a workersai.Client.
type Provider struct {
	client   *workersai.Client
	model    string
	language string
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguage sets the MeloTTS language code. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// New creates a Provider. An empty model selects [DefaultModel].
func New(client *workersai.Client, model string, opts ...Option) (*Provider, error) {
	if client == nil {
		return nil, errors.New("workersai tts: client must not be nil")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{client: client, model: model, language: "en"}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type runRequest struct {
	Prompt string `json:"prompt"`
	Lang   string `json:"lang,omitempty"`
}

// Synthesize implements tts.Provider. The HTTP call completes before the
// channel is returned, so request failures surface as the error return.
func (p *Provider) Synthesize(ctx context.Context, text string) (<-chan []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return tts.Closed(), nil
	}

	resp, err := p.client.RunJSON(ctx, p.model, runRequest{Prompt: text, Lang: p.language})
	if err != nil {
		return nil, fmt.Errorf("workersai tts: synthesize: %w", err)
	}
	defer resp.Body.Close()

	var data []byte
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		result, err := workersai.Result(resp.Body, resp.StatusCode)
		if err != nil {
			return nil, fmt.Errorf("workersai tts: synthesize: %w", err)
		}
		data, err = base64.StdEncoding.DecodeString(result.Get("audio").String())
		if err != nil {
			return nil, fmt.Errorf("workersai tts: decode audio: %w", err)
		}
	} else {
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("workersai tts: read audio: %w", err)
		}
	}

	frames := audio.SplitFrames(data, audio.DefaultFrameBytes)
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return ch, nil
}
