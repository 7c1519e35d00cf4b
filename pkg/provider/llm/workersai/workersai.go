// Package workersai provides an LLM provider backed by Cloudflare Workers AI
// text generation models.
//
// Streaming requests set "stream": true and hand the text/event-stream body
// straight to the caller: Workers AI already emits {"response":"..."} SSE
// frames terminated by "data: [DONE]", which package stream decodes as-is.
package workersai

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	"github.com/MrWong99/chatrelay/pkg/provider/workersai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "@cf/meta/llama-3.1-8b-instruct"

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider on top of a workersai.Client.
type Provider struct {
	client *workersai.Client
	model  string
}

// New creates a Provider. An empty model selects [DefaultModel].
func New(client *workersai.Client, model string) (*Provider, error) {
	if client == nil {
		return nil, errors.New("workersai llm: client must not be nil")
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: client, model: model}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	Messages    []message `json:"messages"`
	Stream      bool      `json:"stream,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

// StreamCompletion implements llm.Provider.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (io.ReadCloser, error) {
	body := buildRequest(req)
	body.Stream = true

	resp, err := p.client.RunJSON(ctx, p.model, body)
	if err != nil {
		return nil, fmt.Errorf("workersai llm: start stream: %w", err)
	}
	return resp.Body, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.client.RunJSON(ctx, p.model, buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("workersai llm: completion: %w", err)
	}
	defer resp.Body.Close()

	result, err := workersai.Result(resp.Body, resp.StatusCode)
	if err != nil {
		return nil, fmt.Errorf("workersai llm: completion: %w", err)
	}
	return &llm.CompletionResponse{Content: result.Get("response").String()}, nil
}

func buildRequest(req llm.CompletionRequest) runRequest {
	msgs := make([]message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, message{Role: "system", Content: req.SystemPrompt})
	}
	for _, t := range req.Messages {
		msgs = append(msgs, message{Role: string(t.Role), Content: t.Content})
	}
	return runRequest{
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
}
