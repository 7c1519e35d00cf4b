// Package llm defines the Provider interface for language model backends.
//
// A provider wraps a remote model API (Cloudflare Workers AI, OpenAI, or any
// backend reachable through any-llm-go) and exposes its streaming output as a
// raw byte stream in SSE or NDJSON framing. The relay decodes that stream with
// package stream, so every backend shares one parsing path regardless of the
// SDK that produced the bytes.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"
	"io"
)

// Provider is the abstraction over any language model backend.
type Provider interface {
	// StreamCompletion sends req to the model and returns the response body as
	// an incremental byte stream. Each line carries one SSE "data:" frame or
	// one JSON object; the stream may end with "data: [DONE]".
	//
	// A non-nil error means the call failed before any byte was produced
	// (network failure, rejected credentials, non-success status). Failures
	// after that surface as read errors on the returned stream. Callers must
	// close the stream.
	StreamCompletion(ctx context.Context, req CompletionRequest) (io.ReadCloser, error)

	// Complete sends req to the model and waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
