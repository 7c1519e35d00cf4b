// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that callers send correct
// CompletionRequests and to feed controlled byte streams without a live model
// backend. All fields are safe to set before calling any method; mutating them
// during a concurrent call is the caller's responsibility.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamBody: mock.SSE("Hel", "lo"),
//	}
//	rc, err := p.StreamCompletion(ctx, req)
package mock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/chatrelay/pkg/provider/llm"
)

// StreamCall records a single invocation of StreamCompletion.
type StreamCall struct {
	// Ctx is the context passed to StreamCompletion.
	Ctx context.Context
	// Req is the CompletionRequest passed to StreamCompletion.
	Req llm.CompletionRequest
}

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Zero values for response fields cause methods to return empty results and
// nil errors. Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// StreamBody is the raw byte stream returned by StreamCompletion.
	StreamBody string

	// StreamChunkSize, when positive, makes the returned reader deliver at
	// most this many bytes per Read so that frame splitting is exercised.
	StreamChunkSize int

	// StreamReadErr, if non-nil, is returned by the reader after StreamBody
	// has been consumed.
	StreamReadErr error

	// StreamErr, if non-nil, is returned as the error from StreamCompletion
	// instead of opening a stream.
	StreamErr error

	// CompleteResponse is returned by Complete. May be nil (returns nil, nil).
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// --- Call records (read after test) ---

	// StreamCalls records every invocation of StreamCompletion in order.
	StreamCalls []StreamCall

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	// Closed counts streams closed by the caller.
	Closed int
}

// StreamCompletion records the call and returns a reader over StreamBody.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (io.ReadCloser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = append(p.StreamCalls, StreamCall{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}

	var r io.Reader = strings.NewReader(p.StreamBody)
	if p.StreamReadErr != nil {
		r = io.MultiReader(r, &errReader{err: p.StreamReadErr})
	}
	return &body{r: r, chunk: p.StreamChunkSize, p: p}, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// StreamCallCount returns the number of StreamCompletion calls. Thread-safe.
func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

// LastStreamRequest returns the request of the most recent StreamCompletion
// call. Thread-safe.
func (p *Provider) LastStreamRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.StreamCalls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.StreamCalls[len(p.StreamCalls)-1].Req, true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls = nil
	p.CompleteCalls = nil
	p.Closed = 0
}

// SSE renders fragments as Workers AI style SSE frames followed by the
// [DONE] sentinel.
func SSE(fragments ...string) string {
	var b strings.Builder
	for _, f := range fragments {
		payload, _ := json.Marshal(map[string]string{"response": f})
		fmt.Fprintf(&b, "data: %s\n\n", payload)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

// ErrStreamClosed is returned by reads after Close.
var ErrStreamClosed = errors.New("mock: stream closed")

type body struct {
	r      io.Reader
	chunk  int
	p      *Provider
	closed bool
}

func (b *body) Read(buf []byte) (int, error) {
	if b.closed {
		return 0, ErrStreamClosed
	}
	if b.chunk > 0 && len(buf) > b.chunk {
		buf = buf[:b.chunk]
	}
	return b.r.Read(buf)
}

func (b *body) Close() error {
	if !b.closed {
		b.closed = true
		b.p.mu.Lock()
		b.p.Closed++
		b.p.mu.Unlock()
	}
	return nil
}

type errReader struct{ err error }

func (e *errReader) Read([]byte) (int, error) { return 0, e.err }
