// Package realtime manages Cloudflare Realtime SFU WebSocket adapters.
//
// An ingest adapter publishes a local PCM track that the SFU pushes to one of
// our WebSocket endpoints; a stream adapter subscribes a remote track and
// plays whatever PCM we send to its endpoint. Credentials are checked lazily
// on first use so that a relay without realtime configuration still serves
// text chat.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the Cloudflare API root.
const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

const maxErrorBody = 4096

// ConfigError reports a missing credential. Key names the setting.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("realtime: %s is not configured", e.Key)
}

// APIError is a non-success answer from the adapter API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("realtime: %s: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// AdapterInfo describes one created adapter.
type AdapterInfo struct {
	AdapterID string `json:"adapterId"`
	SessionID string `json:"sessionId"`
	TrackName string `json:"trackName"`
	Endpoint  string `json:"endpoint"`
}

// Config holds the adapter API credentials.
type Config struct {
	AccountID string
	AppID     string
	APIToken  string
	BaseURL   string
}

// Client calls the adapter API. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New returns a Client. Missing credentials are reported by the first call
// that needs them, not here.
func New(cfg Config, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{cfg: cfg, httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Validate returns a *ConfigError for the first missing credential.
func (c *Client) Validate() error {
	switch {
	case c.cfg.AppID == "":
		return &ConfigError{Key: "REALTIME_APP_ID"}
	case c.cfg.APIToken == "":
		return &ConfigError{Key: "REALTIME_API_TOKEN"}
	case c.cfg.AccountID == "":
		return &ConfigError{Key: "ACCOUNT_ID"}
	}
	return nil
}

type track struct {
	Location    string `json:"location,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
	TrackName   string `json:"trackName,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	InputCodec  string `json:"inputCodec,omitempty"`
	OutputCodec string `json:"outputCodec,omitempty"`
	Mode        string `json:"mode,omitempty"`
	AdapterID   string `json:"adapterId,omitempty"`
}

type tracksBody struct {
	Tracks []track `json:"tracks"`
}

// CreateIngestAdapter asks the SFU to push the local track trackName to
// endpoint as buffered PCM.
func (c *Client) CreateIngestAdapter(ctx context.Context, endpoint, trackName string) (AdapterInfo, error) {
	return c.create(ctx, "create ingest adapter", track{
		Location:   "local",
		TrackName:  trackName,
		Endpoint:   endpoint,
		InputCodec: "pcm",
		Mode:       "buffer",
	})
}

// CreateStreamAdapter subscribes the remote track trackName of sessionID and
// plays PCM sent to endpoint.
func (c *Client) CreateStreamAdapter(ctx context.Context, sessionID, trackName, endpoint string) (AdapterInfo, error) {
	return c.create(ctx, "create stream adapter", track{
		Location:    "remote",
		SessionID:   sessionID,
		TrackName:   trackName,
		Endpoint:    endpoint,
		OutputCodec: "pcm",
	})
}

// CloseAdapter tears down an adapter.
func (c *Client) CloseAdapter(ctx context.Context, adapterID string) error {
	if err := c.Validate(); err != nil {
		return err
	}
	resp, err := c.post(ctx, "close adapter", "close", tracksBody{Tracks: []track{{AdapterID: adapterID}}})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *Client) create(ctx context.Context, op string, t track) (AdapterInfo, error) {
	if err := c.Validate(); err != nil {
		return AdapterInfo{}, err
	}
	resp, err := c.post(ctx, op, "new", tracksBody{Tracks: []track{t}})
	if err != nil {
		return AdapterInfo{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return AdapterInfo{}, fmt.Errorf("realtime: %s: read response: %w", op, err)
	}
	first := gjson.GetBytes(raw, "tracks.0")
	if !first.Exists() {
		return AdapterInfo{}, fmt.Errorf("realtime: %s: no tracks returned", op)
	}
	info := AdapterInfo{
		AdapterID: first.Get("adapterId").String(),
		SessionID: first.Get("sessionId").String(),
		TrackName: first.Get("trackName").String(),
		Endpoint:  first.Get("endpoint").String(),
	}
	if info.AdapterID == "" {
		return AdapterInfo{}, fmt.Errorf("realtime: %s: response has no adapterId", op)
	}
	return info, nil
}

func (c *Client) post(ctx context.Context, op, action string, body tracksBody) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("realtime: %s: marshal: %w", op, err)
	}
	url := fmt.Sprintf("%s/accounts/%s/realtime/sfu/apps/%s/adapters/websocket/%s",
		c.cfg.BaseURL, c.cfg.AccountID, c.cfg.AppID, action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("realtime: %s: build request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("realtime: %s: %w", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return resp, nil
}
