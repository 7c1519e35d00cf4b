// Package workersai is a thin HTTP client for the Cloudflare Workers AI REST
// API. The llm, stt and tts backends named "workers-ai" share one Client.
//
// Every model is invoked through POST /accounts/{account}/ai/run/{model}.
// Non-streaming responses arrive in the standard Cloudflare envelope
// ({"success":..., "errors":[...], "result":{...}}); streaming text models
// answer with a text/event-stream body of {"response":"..."} frames.
package workersai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the Cloudflare API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

const (
	defaultTimeout = 60 * time.Second
	maxErrorBody   = 4096
)

// APIError reports a non-success answer from Workers AI.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Message is the first error message from the envelope, or the raw body
	// when the envelope could not be parsed.
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("workersai: status %d: %s", e.StatusCode, e.Message)
}

// Client invokes Workers AI models on behalf of one account.
type Client struct {
	accountID  string
	apiToken   string
	baseURL    string
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*Client)

// WithBaseURL overrides [DefaultBaseURL]. Tests point it at httptest servers.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient replaces the default HTTP client. Streaming calls should use
// a client without an overall timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// New creates a Client. accountID and apiToken must be non-empty.
func New(accountID, apiToken string, opts ...Option) (*Client, error) {
	if accountID == "" {
		return nil, errors.New("workersai: accountID must not be empty")
	}
	if apiToken == "" {
		return nil, errors.New("workersai: apiToken must not be empty")
	}
	c := &Client{
		accountID:  accountID,
		apiToken:   apiToken,
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Run posts body to the given model and returns the open response on a 2xx
// status. The caller must close the body. Any other status is converted to an
// *APIError.
func (c *Client) Run(ctx context.Context, model string, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s/ai/run/%s", c.baseURL, c.accountID, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("workersai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("workersai: run %s: %w", model, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw)}
	}
	return resp, nil
}

// RunJSON marshals payload and posts it as application/json.
func (c *Client) RunJSON(ctx context.Context, model string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("workersai: marshal request: %w", err)
	}
	return c.Run(ctx, model, bytes.NewReader(body), "application/json")
}

// Result reads a Cloudflare envelope from r and returns its "result" member.
// An envelope with success == false becomes an *APIError.
func Result(r io.Reader, statusCode int) (gjson.Result, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("workersai: read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("workersai: response is not JSON")
	}
	env := gjson.ParseBytes(raw)
	if ok := env.Get("success"); ok.Exists() && !ok.Bool() {
		return gjson.Result{}, &APIError{StatusCode: statusCode, Message: errorMessage(raw)}
	}
	result := env.Get("result")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("workersai: response has no result")
	}
	return result, nil
}

func errorMessage(raw []byte) string {
	if msg := gjson.GetBytes(raw, "errors.0.message"); msg.Type == gjson.String {
		return msg.Str
	}
	return strings.TrimSpace(string(raw))
}
