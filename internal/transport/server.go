// Package transport exposes agents over HTTP and WebSocket.
//
// Chat clients connect to GET /api/chat/ws and exchange JSON envelopes
// (see package protocol). Audio arrives as binary frames on connections whose
// role is AudioIngest. The RPC routes mirror the agent's sendMessage,
// getMemory and clearMemory operations and manage realtime adapters.
//
// The caller is identified by the X-User-ID header set by the fronting
// authentication layer.
package transport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/chatrelay/internal/agent"
	"github.com/MrWong99/chatrelay/internal/observe"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

const (
	defaultTurnTimeout  = 2 * time.Minute
	defaultWriteTimeout = 10 * time.Second
	defaultMaxBody      = 1 << 20
	defaultReadLimit    = 1 << 20
)

// Config configures a Server.
type Config struct {
	// Agents resolves users to agents. Required.
	Agents *agent.Manager

	// TurnTimeout bounds one turn. Turns run detached from the request so
	// that a disconnect does not abort persistence.
	TurnTimeout time.Duration

	// WriteTimeout bounds a single WebSocket write.
	WriteTimeout time.Duration

	// MaxBodyBytes limits JSON request bodies.
	MaxBodyBytes int64

	// ReadLimit limits a single inbound WebSocket message.
	ReadLimit int64

	// OriginPatterns lists accepted cross-origin hosts for WebSocket upgrades.
	OriginPatterns []string

	// Metrics overrides [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Server serves the chat API.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	mux     *http.ServeMux

	// turns tracks turns that outlive their request.
	turns sync.WaitGroup

	// mu guards closing and live. turns.Add only happens under mu while
	// closing is false.
	mu      sync.Mutex
	closing bool
	live    map[*wsConn]struct{}
}

// New returns a Server with all routes registered.
func New(cfg Config) *Server {
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = defaultTurnTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBody
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = defaultReadLimit
	}
	s := &Server{
		cfg:     cfg,
		metrics: cfg.Metrics,
		mux:     http.NewServeMux(),
		live:    make(map[*wsConn]struct{}),
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/chat/ws", s.handleChatWS)
	s.mux.HandleFunc("GET /api/realtime/audio/ingest", s.handleIngestWS)
	s.mux.HandleFunc("GET /api/realtime/audio/stream", s.handleStreamWS)

	s.mux.HandleFunc("POST /api/chat", s.handleSendMessage)
	s.mux.HandleFunc("GET /api/chat/memory", s.handleGetMemory)
	s.mux.HandleFunc("DELETE /api/chat/memory", s.handleClearMemory)

	s.mux.HandleFunc("POST /api/realtime/adapter", s.handleCreateAdapters)
	s.mux.HandleFunc("DELETE /api/realtime/adapter", s.handleDeleteAdapters)
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.Handle("/api/", s.recoverPanics(s.mux))
}

// Handler returns the API as a standalone handler.
func (s *Server) Handler() http.Handler {
	return s.recoverPanics(s.mux)
}

// Wait blocks until all detached turns have finished or ctx is done.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.turns.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting turns and WebSocket connections, closes every
// live WebSocket with StatusGoingAway and waits for running turns. Queued
// turns that have not started are dropped.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	conns := make([]*wsConn, 0, len(s.live))
	for c := range s.live {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range conns {
		wg.Go(func() {
			c.c.Close(websocket.StatusGoingAway, "server shutting down")
		})
	}
	wg.Wait()
	return s.Wait(ctx)
}

func (s *Server) stopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// track registers a live WebSocket. It reports false once shutdown began.
func (s *Server) track(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.live[c] = struct{}{}
	return true
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.live, c)
}

// detach runs fn in a goroutine tracked by Wait. It reports false, without
// running fn, once shutdown began.
func (s *Server) detach(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.turns.Go(fn)
	return true
}

// ── Turn queue ───────────────────────────────────────────────────────────────

// queuedTurn is one pending turn. release runs whether or not the turn ran.
type queuedTurn struct {
	run     func()
	release func()
}

// turnQueue runs the turns of one connection one at a time in arrival order.
// A worker goroutine exists only while turns are pending.
type turnQueue struct {
	mu      sync.Mutex
	pending []queuedTurn
	running bool
}

// enqueue appends a turn running fn on a context detached from ctx and
// bounded by the turn timeout. It reports false when the server is shutting
// down; release has then already run.
func (s *Server) enqueue(ctx context.Context, q *turnQueue, fn func(ctx context.Context), release func()) bool {
	t := queuedTurn{
		run: func() {
			tctx, cancel := s.turnContext(ctx)
			defer cancel()
			fn(tctx)
		},
		release: release,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		q.pending = append(q.pending, t)
		return true
	}
	if !s.detach(func() { s.work(q) }) {
		t.release()
		return false
	}
	q.pending = append(q.pending, t)
	q.running = true
	return true
}

func (s *Server) work(q *turnQueue) {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		if s.stopping() {
			dropped := q.pending
			q.pending = nil
			q.running = false
			q.mu.Unlock()
			for _, t := range dropped {
				t.release()
			}
			return
		}
		t := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		t.run()
		t.release()
	}
}

// turnContext returns a context that survives the request, bounded by the
// turn timeout.
func (s *Server) turnContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.TurnTimeout)
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				observe.Logger(r.Context()).Error("panic recovered", "panic", v, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// userID returns the caller's id from the header or, for WebSocket
// endpoints dialled by the media SFU, the userId query parameter.
func userID(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("userId")
}
