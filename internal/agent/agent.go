// Package agent hosts the per-user conversation owner.
//
// Each user gets exactly one [Agent] per process. The agent owns that user's
// [session.Session], its voice ingest buffer, the live connections attached
// to it and any realtime media adapters. Turns of one agent run strictly one
// after another so that history reads and appends never interleave.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/chatrelay/internal/connection"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/protocol"
	"github.com/MrWong99/chatrelay/internal/realtime"
	"github.com/MrWong99/chatrelay/internal/session"
	"github.com/MrWong99/chatrelay/internal/streamer"
	"github.com/MrWong99/chatrelay/internal/voice"
	"github.com/MrWong99/chatrelay/pkg/types"
)

// ErrEmptyMessage is returned for blank user text.
var ErrEmptyMessage = errors.New("agent: message is empty")

// Conn is a live client connection attached to an agent. Chat connections
// receive events; audio stream connections also receive PCM frames.
// Implementations must be comparable (pointer types).
type Conn interface {
	protocol.Sink
	voice.AudioSink
}

// Reply is the result of a non-streaming turn.
type Reply struct {
	Response string          `json:"response"`
	Memory   []types.Message `json:"memory"`
}

// Adapters holds the realtime adapters of one agent.
type Adapters struct {
	Ingest realtime.AdapterInfo `json:"ingest"`
	Stream realtime.AdapterInfo `json:"stream"`
}

// Agent is the conversation owner of one user. All methods are safe for
// concurrent use.
type Agent struct {
	userID   string
	session  *session.Session
	streamer *streamer.Streamer
	voice    *voice.Bridge
	conns    *connection.Registry[Conn]
	realtime *realtime.Client
	metrics  *observe.Metrics

	// turnMu serializes turns and history mutations.
	turnMu sync.Mutex

	rtMu     sync.Mutex
	adapters *Adapters
}

// UserID returns the id of the owning user.
func (a *Agent) UserID() string { return a.userID }

// HandleText records text as a user turn and streams the reply to sink.
func (a *Agent) HandleText(ctx context.Context, text string, sink protocol.Sink) (types.Message, error) {
	return a.HandleMessage(ctx, types.NewMessage(types.RoleUser, text), sink)
}

// HandleMessage is HandleText for a user message whose id was chosen by the
// client.
func (a *Agent) HandleMessage(ctx context.Context, msg types.Message, sink protocol.Sink) (types.Message, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return a.turnMessage(ctx, msg, sink)
}

// turn runs one streamed turn. Callers hold turnMu.
func (a *Agent) turn(ctx context.Context, text string, sink protocol.Sink) (types.Message, error) {
	return a.turnMessage(ctx, types.NewMessage(types.RoleUser, text), sink)
}

func (a *Agent) turnMessage(ctx context.Context, msg types.Message, sink protocol.Sink) (types.Message, error) {
	log := observe.Logger(ctx).With("user_id", a.userID)
	if strings.TrimSpace(msg.Content) == "" {
		if err := sink.Send(ctx, protocol.Error(ErrEmptyMessage.Error())); err != nil {
			log.Warn("could not deliver error event", "err", err)
		}
		return types.Message{}, ErrEmptyMessage
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	history, err := a.session.Append(ctx, msg)
	if err != nil {
		err = &streamer.PersistenceError{Err: err}
		a.metrics.RecordTurn(ctx, "stream", "persist_error")
		if sendErr := sink.Send(ctx, protocol.Error(err.Error())); sendErr != nil {
			log.Warn("could not deliver error event", "err", sendErr)
		}
		return types.Message{}, err
	}
	return a.streamer.Run(ctx, history, a.session, sink)
}

// SendMessage runs a non-streaming turn and returns the reply together with
// the updated history.
func (a *Agent) SendMessage(ctx context.Context, text string) (Reply, error) {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}
	history, err := a.session.Append(ctx, types.NewMessage(types.RoleUser, text))
	if err != nil {
		return Reply{}, &streamer.PersistenceError{Err: err}
	}
	msg, err := a.streamer.Complete(ctx, history, a.session)
	if err != nil {
		return Reply{}, err
	}
	mem, err := a.session.Read(ctx)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Response: msg.Content, Memory: mem}, nil
}

// Memory returns the conversation history.
func (a *Agent) Memory(ctx context.Context) ([]types.Message, error) {
	return a.session.Read(ctx)
}

// ClearMemory wipes the conversation history. It waits for a running turn.
func (a *Agent) ClearMemory(ctx context.Context) error {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()
	return a.session.Clear(ctx)
}

// ── Connections ──────────────────────────────────────────────────────────────

// Attach registers c with role.
func (a *Agent) Attach(c Conn, role connection.Role) {
	a.conns.Register(c, role)
}

// SetRole changes the role of an attached connection.
func (a *Agent) SetRole(c Conn, role connection.Role) {
	a.conns.Register(c, role)
}

// Detach forgets c.
func (a *Agent) Detach(c Conn) {
	a.conns.Unregister(c)
}

// Role returns the role of c.
func (a *Agent) Role(c Conn) (connection.Role, bool) {
	return a.conns.Lookup(c)
}

// Connections returns the number of attached connections.
func (a *Agent) Connections() int {
	return a.conns.Len()
}

// ── Voice ────────────────────────────────────────────────────────────────────

// IngestAudio buffers one PCM chunk.
func (a *Agent) IngestAudio(ctx context.Context, chunk []byte) {
	a.voice.Ingest(chunk)
	a.metrics.AudioBytesIngested.Add(ctx, int64(len(chunk)))
}

// ResetAudio discards buffered audio.
func (a *Agent) ResetAudio() {
	a.voice.Reset()
}

// BufferedAudio returns the number of buffered PCM bytes.
func (a *Agent) BufferedAudio() int {
	return a.voice.Buffered()
}

// TranscribeAndRespond transcribes buffered audio, runs the resulting turn
// with events sent to sink, and speaks the reply to every attached audio
// stream connection.
func (a *Agent) TranscribeAndRespond(ctx context.Context, sink protocol.Sink) error {
	a.turnMu.Lock()
	defer a.turnMu.Unlock()

	var out voice.AudioSink
	if listeners := a.conns.Handles(connection.AudioStream); len(listeners) > 0 {
		out = fanout(listeners)
	}
	return a.voice.Respond(ctx, a.turn, sink, out)
}

// fanout forwards each frame to every listener. It fails only when no
// listener accepted the frame.
type fanout []Conn

func (f fanout) SendAudio(ctx context.Context, frame []byte) error {
	var errs []error
	for _, c := range f {
		if err := c.SendAudio(ctx, frame); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(f) {
		return errors.Join(errs...)
	}
	return nil
}

// ── Realtime adapters ────────────────────────────────────────────────────────

// trackName is the SFU track carrying this user's audio.
func (a *Agent) trackName() string {
	return "chatrelay-" + a.userID
}

// CreateRealtimeAdapters creates the ingest adapter and a stream adapter
// subscribed to the same track. Previously created adapters are closed first.
func (a *Agent) CreateRealtimeAdapters(ctx context.Context, ingestEndpoint, streamEndpoint string) (Adapters, error) {
	if a.realtime == nil {
		return Adapters{}, &realtime.ConfigError{Key: "REALTIME_APP_ID"}
	}
	if err := a.realtime.Validate(); err != nil {
		return Adapters{}, err
	}
	if err := a.CleanupRealtime(ctx); err != nil {
		observe.Logger(ctx).Warn("closing previous adapters", "user_id", a.userID, "err", err)
	}

	a.rtMu.Lock()
	defer a.rtMu.Unlock()

	ingest, err := a.realtime.CreateIngestAdapter(ctx, ingestEndpoint, a.trackName())
	if err != nil {
		return Adapters{}, fmt.Errorf("agent: %w", err)
	}
	stream, err := a.realtime.CreateStreamAdapter(ctx, ingest.SessionID, ingest.TrackName, streamEndpoint)
	if err != nil {
		if closeErr := a.realtime.CloseAdapter(context.WithoutCancel(ctx), ingest.AdapterID); closeErr != nil {
			observe.Logger(ctx).Warn("closing orphaned ingest adapter", "adapter_id", ingest.AdapterID, "err", closeErr)
		}
		return Adapters{}, fmt.Errorf("agent: %w", err)
	}
	a.adapters = &Adapters{Ingest: ingest, Stream: stream}
	return *a.adapters, nil
}

// Adapters returns the current realtime adapters, if any.
func (a *Agent) Adapters() (Adapters, bool) {
	a.rtMu.Lock()
	defer a.rtMu.Unlock()
	if a.adapters == nil {
		return Adapters{}, false
	}
	return *a.adapters, true
}

// CleanupRealtime closes both adapters concurrently and clears the ingest
// buffer. It is a no-op for the adapters when none exist.
func (a *Agent) CleanupRealtime(ctx context.Context) error {
	a.rtMu.Lock()
	adapters := a.adapters
	a.adapters = nil
	a.rtMu.Unlock()

	a.voice.Reset()
	if adapters == nil || a.realtime == nil {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range []string{adapters.Ingest.AdapterID, adapters.Stream.AdapterID} {
		if id == "" {
			continue
		}
		g.Go(func() error {
			return a.realtime.CloseAdapter(gctx, id)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("agent: cleanup realtime: %w", err)
	}
	return nil
}
