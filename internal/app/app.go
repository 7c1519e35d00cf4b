// Package app wires all chatrelay subsystems into a running server.
//
// The App struct owns the full lifecycle: New opens the conversation store
// and connects agents, streamer and transport, Run serves HTTP until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithMetrics, WithRealtimeClient). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatrelay/internal/agent"
	"github.com/MrWong99/chatrelay/internal/config"
	"github.com/MrWong99/chatrelay/internal/health"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/realtime"
	"github.com/MrWong99/chatrelay/internal/streamer"
	"github.com/MrWong99/chatrelay/internal/transport"
	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/memory"
	"github.com/MrWong99/chatrelay/pkg/memory/postgres"
	"github.com/MrWong99/chatrelay/pkg/memory/sqlite"
)

const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	store     memory.Store
	realtime  *realtime.Client
	agents    *agent.Manager
	transport *transport.Server
	handler   http.Handler
	server    *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a conversation store instead of opening one from config.
// The caller keeps ownership; Shutdown does not close it.
func WithStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics overrides [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithRealtimeClient injects the realtime adapter client.
func WithRealtimeClient(c *realtime.Client) Option {
	return func(a *App) { a.realtime = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from [BuildProviders].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an LLM provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Memory store ──────────────────────────────────────────────────
	if a.store == nil {
		store, closeFn, err := OpenStore(ctx, cfg.Memory)
		if err != nil {
			return nil, fmt.Errorf("app: init memory: %w", err)
		}
		a.store = store
		a.closers = append(a.closers, closeFn)
	}

	// ── 2. Streamer ──────────────────────────────────────────────────────
	name := providers.LLMName
	if name == "" {
		name = cfg.Providers.LLM.Name
	}
	st := streamer.New(providers.LLM,
		streamer.WithSystemPrompt(cfg.Agent.SystemPrompt),
		streamer.WithProviderName(name),
		streamer.WithSampling(cfg.Agent.Temperature, cfg.Agent.MaxTokens),
		streamer.WithMetrics(a.metrics),
	)

	// ── 3. Realtime client ───────────────────────────────────────────────
	if a.realtime == nil {
		a.realtime = realtime.New(realtime.Config{
			AccountID: cfg.Realtime.AccountID,
			AppID:     cfg.Realtime.AppID,
			APIToken:  cfg.Realtime.APIToken,
			BaseURL:   cfg.Realtime.BaseURL,
		})
	}
	if err := a.realtime.Validate(); err != nil {
		slog.Warn("realtime adapters unavailable until configured", "err", err)
	}

	// ── 4. Agents ────────────────────────────────────────────────────────
	a.agents = agent.NewManager(agent.Config{
		Store:       a.store,
		Streamer:    st,
		STT:         providers.STT,
		TTS:         providers.TTS,
		Realtime:    a.realtime,
		BufferLimit: cfg.Agent.MaxAudioBufferBytes,
		FrameBytes:  cfg.Agent.AudioFrameBytes,
		Format:      audio.Format{SampleRate: cfg.Agent.SampleRate, Channels: cfg.Agent.Channels},
		Metrics:     a.metrics,
	})

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.transport = transport.New(transport.Config{
		Agents:         a.agents,
		TurnTimeout:    cfg.Agent.TurnTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		OriginPatterns: cfg.Server.AllowedOrigins,
		Metrics:        a.metrics,
	})

	var checks []health.Checker
	if p, ok := a.store.(memory.Pinger); ok {
		checks = append(checks, health.Ping("memory", p))
	}

	mux := http.NewServeMux()
	health.New(checks...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	a.transport.Register(mux)
	a.handler = observe.Middleware(a.metrics)(mux)

	slog.Info("app initialised",
		"memory", cfg.Memory.Backend,
		"llm", name,
		"voice_in", providers.STT != nil,
		"voice_out", providers.TTS != nil,
	)
	return a, nil
}

// OpenStore opens the conversation store selected by cfg. The returned close
// function releases it.
func OpenStore(ctx context.Context, cfg config.MemoryConfig) (memory.Store, func() error, error) {
	switch cfg.Backend {
	case config.MemoryPostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() error { store.Close(); return nil }, nil

	case config.MemorySQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.MemoryInProcess:
		return memory.NewMemStore(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// Handler returns the root HTTP handler: API, health probes and metrics.
func (a *App) Handler() http.Handler { return a.handler }

// Agents returns the agent manager.
func (a *App) Agents() *agent.Manager { return a.agents }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured listen address and blocks until ctx is
// cancelled or the server fails. A cancelled context is not an error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.server = &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown closes live WebSockets, waits for in-flight turns to persist,
// stops accepting requests, releases realtime adapters and closes the store.
// It is idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		// WebSockets are hijacked, so http.Server.Shutdown neither closes
		// them nor waits for their turns.
		if err := a.transport.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for turns: %w", err))
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("http shutdown: %w", err))
			}
		}
		if err := a.agents.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close agents: %w", err))
		}
		for _, closeFn := range slices.Backward(a.closers) {
			if err := closeFn(); err != nil {
				errs = append(errs, err)
			}
		}
		a.stopErr = errors.Join(errs...)
		slog.Info("app stopped", "err", a.stopErr)
	})
	return a.stopErr
}
