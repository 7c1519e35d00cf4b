package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/chatrelay/internal/connection"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/realtime"
	"github.com/MrWong99/chatrelay/internal/session"
	"github.com/MrWong99/chatrelay/internal/streamer"
	"github.com/MrWong99/chatrelay/internal/voice"
	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/memory"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	"github.com/MrWong99/chatrelay/pkg/provider/tts"
)

// Config holds the dependencies shared by all agents.
type Config struct {
	// Store persists conversation state. Required.
	Store memory.Store

	// Streamer runs model turns. Required.
	Streamer *streamer.Streamer

	// STT and TTS back voice turns. STT may be nil when voice is disabled;
	// TTS may be nil, in which case replies are not spoken.
	STT stt.Provider
	TTS tts.Provider

	// Realtime manages SFU adapters. May be nil.
	Realtime *realtime.Client

	// BufferLimit caps each agent's ingest buffer in bytes.
	BufferLimit int

	// FrameBytes bounds outbound audio frames.
	FrameBytes int

	// Format is the PCM format of ingested audio.
	Format audio.Format

	// Metrics overrides [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Manager creates agents on first access and keeps one per user. Agents
// held through [Manager.Acquire] are evicted once the last reference is
// released and no realtime adapters remain open.
type Manager struct {
	cfg Config

	mu     sync.Mutex
	agents map[string]*Agent
	refs   map[*Agent]int
}

// NewManager returns a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.STT == nil {
		cfg.STT = noSTT{}
	}
	if !cfg.Format.Valid() {
		cfg.Format = stt.DefaultFormat
	}
	return &Manager{
		cfg:    cfg,
		agents: make(map[string]*Agent),
		refs:   make(map[*Agent]int),
	}
}

// Get returns the agent of userID, creating it if needed. History is loaded
// lazily by the agent's session. Get does not hold a reference; callers that
// keep the agent across a request use [Manager.Acquire].
func (m *Manager) Get(userID string) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(userID)
}

// Acquire is Get plus a reference that keeps the agent resident. Every
// Acquire must be paired with one [Manager.Release].
func (m *Manager) Acquire(userID string) *Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := m.getLocked(userID)
	m.refs[a]++
	return a
}

// Release drops a reference taken by Acquire. The agent is evicted when no
// references remain and it has no open realtime adapters. Its history stays
// in the store and is reloaded on the next access.
func (m *Manager) Release(a *Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.refs[a] - 1
	if n > 0 {
		m.refs[a] = n
		return
	}
	delete(m.refs, a)
	if _, open := a.Adapters(); open {
		return
	}
	if m.agents[a.userID] == a {
		delete(m.agents, a.userID)
		m.cfg.Metrics.ActiveAgents.Add(context.Background(), -1)
	}
}

func (m *Manager) getLocked(userID string) *Agent {
	if a, ok := m.agents[userID]; ok {
		return a
	}
	a := &Agent{
		userID:   userID,
		session:  session.New(userID, m.cfg.Store),
		streamer: m.cfg.Streamer,
		voice: voice.New(m.cfg.STT, m.cfg.TTS,
			voice.WithBufferLimit(m.cfg.BufferLimit),
			voice.WithFrameBytes(m.cfg.FrameBytes),
			voice.WithFormat(m.cfg.Format),
			voice.WithMetrics(m.cfg.Metrics),
		),
		conns:    connection.NewRegistry[Conn](),
		realtime: m.cfg.Realtime,
		metrics:  m.cfg.Metrics,
	}
	m.agents[userID] = a
	m.cfg.Metrics.ActiveAgents.Add(context.Background(), 1)
	return a
}

// Len returns the number of live agents.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.agents)
}

// Close releases the realtime adapters of every agent.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		agents = append(agents, a)
	}
	m.mu.Unlock()

	var errs []error
	for _, a := range agents {
		if err := a.CleanupRealtime(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// errVoiceDisabled is returned by transcription when no STT backend is
// configured.
var errVoiceDisabled = errors.New("speech-to-text is not configured")

type noSTT struct{}

func (noSTT) Transcribe(context.Context, stt.Audio) (string, error) {
	return "", errVoiceDisabled
}
