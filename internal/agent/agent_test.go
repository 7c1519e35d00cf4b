package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"

	"github.com/MrWong99/chatrelay/internal/connection"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/protocol"
	"github.com/MrWong99/chatrelay/internal/realtime"
	"github.com/MrWong99/chatrelay/internal/streamer"
	memorymock "github.com/MrWong99/chatrelay/pkg/memory/mock"
	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/chatrelay/pkg/provider/llm/mock"
	sttmock "github.com/MrWong99/chatrelay/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/chatrelay/pkg/provider/tts/mock"
	"github.com/MrWong99/chatrelay/pkg/types"
)

// fakeConn records everything sent to it.
type fakeConn struct {
	protocol.Collector

	mu     sync.Mutex
	frames [][]byte
	err    error
}

func (c *fakeConn) SendAudio(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, slices.Clone(frame))
	return nil
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type harness struct {
	llm   *llmmock.Provider
	stt   *sttmock.Provider
	tts   *ttsmock.Provider
	store *memorymock.Store
	mgr   *Manager
}

func newHarness(t *testing.T, rt *realtime.Client) *harness {
	t.Helper()
	m, err := observe.NewMetrics(noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	h := &harness{
		llm:   &llmmock.Provider{StreamBody: llmmock.SSE("Hel", "lo")},
		stt:   &sttmock.Provider{Text: "hello there"},
		tts:   &ttsmock.Provider{SynthesizeChunks: [][]byte{make([]byte, 10)}},
		store: memorymock.NewStore(),
	}
	h.mgr = NewManager(Config{
		Store:      h.store,
		Streamer:   streamer.New(h.llm, streamer.WithMetrics(m)),
		STT:        h.stt,
		TTS:        h.tts,
		Realtime:   rt,
		FrameBytes: 4,
		Metrics:    m,
	})
	return h
}

func TestManager_OneAgentPerUser(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")
	if h.mgr.Get("alice") != a {
		t.Error("Get returned a different agent for the same user")
	}
	if h.mgr.Get("bob") == a {
		t.Error("different users share an agent")
	}
	if h.mgr.Len() != 2 {
		t.Errorf("Len = %d, want 2", h.mgr.Len())
	}
	if a.UserID() != "alice" {
		t.Errorf("UserID = %q", a.UserID())
	}
}

func TestHandleText_AppendsBothTurns(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")
	sink := &protocol.Collector{}

	msg, err := a.HandleText(context.Background(), "hi", sink)
	if err != nil {
		t.Fatalf("HandleText: %v", err)
	}
	if msg.Content != "Hello" {
		t.Errorf("reply = %q", msg.Content)
	}
	mem, _ := a.Memory(context.Background())
	if len(mem) != 2 || mem[0].Role != types.RoleUser || mem[0].Content != "hi" || mem[1].Content != "Hello" {
		t.Errorf("memory = %+v", mem)
	}
	want := []string{protocol.TypeStart, protocol.TypeChunk, protocol.TypeChunk, protocol.TypeComplete}
	if got := sink.Types(); !slices.Equal(got, want) {
		t.Errorf("events = %v", got)
	}
	req, _ := h.llm.LastStreamRequest()
	if len(req.Messages) != 1 || req.Messages[0] != (llm.Turn{Role: types.RoleUser, Content: "hi"}) {
		t.Errorf("model saw %+v", req.Messages)
	}
}

func TestHandleMessage_KeepsClientID(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")

	msg := types.NewMessageWithID("client-7", types.RoleUser, "hi")
	if _, err := a.HandleMessage(context.Background(), msg, &protocol.Collector{}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if _, err := a.HandleMessage(context.Background(), types.Message{Role: types.RoleUser, Content: "again"}, &protocol.Collector{}); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	mem, _ := a.Memory(context.Background())
	if len(mem) != 4 {
		t.Fatalf("len = %d, want 4", len(mem))
	}
	if mem[0].ID != "client-7" {
		t.Errorf("user message id = %q, want client-7", mem[0].ID)
	}
	if mem[2].ID == "" {
		t.Error("message without client id was stored without an id")
	}
}

func TestHandleText_UserPersistFailureSkipsModel(t *testing.T) {
	h := newHarness(t, nil)
	h.store.SetSaveErr(errors.New("db down"))
	sink := &protocol.Collector{}

	_, err := h.mgr.Get("alice").HandleText(context.Background(), "hi", sink)
	var pe *streamer.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *PersistenceError", err)
	}
	if h.llm.StreamCallCount() != 0 {
		t.Error("model called after failed user append")
	}
	if got := sink.Types(); !slices.Equal(got, []string{protocol.TypeError}) {
		t.Errorf("events = %v", got)
	}
}

func TestHandleText_TurnsAreSerialized(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")

	var wg sync.WaitGroup
	for range 5 {
		wg.Go(func() {
			a.HandleText(context.Background(), "hi", &protocol.Collector{})
		})
	}
	wg.Wait()

	mem, _ := a.Memory(context.Background())
	if len(mem) != 10 {
		t.Fatalf("len = %d, want 10", len(mem))
	}
	for i, m := range mem {
		want := types.RoleUser
		if i%2 == 1 {
			want = types.RoleAssistant
		}
		if m.Role != want {
			t.Fatalf("memory[%d].Role = %s, turns interleaved", i, m.Role)
		}
	}
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.llm.CompleteResponse = &llm.CompletionResponse{Content: "Hi!"}
	a := h.mgr.Get("alice")

	reply, err := a.SendMessage(context.Background(), "hello")
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if reply.Response != "Hi!" || len(reply.Memory) != 2 {
		t.Errorf("reply = %+v", reply)
	}
	if _, err := a.SendMessage(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank err = %v", err)
	}
}

func TestClearMemory(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")
	a.HandleText(context.Background(), "hi", &protocol.Collector{})

	if err := a.ClearMemory(context.Background()); err != nil {
		t.Fatalf("ClearMemory: %v", err)
	}
	if mem, _ := a.Memory(context.Background()); len(mem) != 0 {
		t.Errorf("memory = %+v", mem)
	}
	st, _ := h.store.Stored("alice")
	if len(st.Memory) != 0 {
		t.Errorf("persisted = %+v", st.Memory)
	}
}

func TestConnections(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")
	c := &fakeConn{}

	a.Attach(c, connection.Chat)
	a.SetRole(c, connection.AudioIngest)
	if role, ok := a.Role(c); !ok || role != connection.AudioIngest {
		t.Errorf("Role = %v, %v", role, ok)
	}
	a.Detach(c)
	if a.Connections() != 0 {
		t.Errorf("Connections = %d", a.Connections())
	}
}

func TestTranscribeAndRespond_SpeaksToListeners(t *testing.T) {
	h := newHarness(t, nil)
	a := h.mgr.Get("alice")

	chat := &fakeConn{}
	speaker := &fakeConn{}
	broken := &fakeConn{err: errors.New("gone")}
	a.Attach(chat, connection.Chat)
	a.Attach(speaker, connection.AudioStream)
	a.Attach(broken, connection.AudioStream)

	a.IngestAudio(context.Background(), []byte{1, 2, 3})
	if err := a.TranscribeAndRespond(context.Background(), chat); err != nil {
		t.Fatalf("TranscribeAndRespond: %v", err)
	}

	mem, _ := a.Memory(context.Background())
	if len(mem) != 2 || mem[0].Content != "hello there" {
		t.Errorf("memory = %+v", mem)
	}
	// 10 bytes of speech at 4 bytes per frame.
	if n := speaker.frameCount(); n != 3 {
		t.Errorf("speaker frames = %d, want 3", n)
	}
	if chat.frameCount() != 0 {
		t.Error("chat connection received audio")
	}
	if got := chat.Types(); got[len(got)-1] != protocol.TypeComplete {
		t.Errorf("chat events = %v", got)
	}
	if a.BufferedAudio() != 0 {
		t.Errorf("BufferedAudio = %d", a.BufferedAudio())
	}
}

func TestTranscribeAndRespond_VoiceDisabled(t *testing.T) {
	m, _ := observe.NewMetrics(noop.NewMeterProvider())
	mgr := NewManager(Config{
		Store:    memorymock.NewStore(),
		Streamer: streamer.New(&llmmock.Provider{}, streamer.WithMetrics(m)),
		Metrics:  m,
	})
	a := mgr.Get("alice")
	a.IngestAudio(context.Background(), []byte{1})
	sink := &protocol.Collector{}
	if err := a.TranscribeAndRespond(context.Background(), sink); !errors.Is(err, errVoiceDisabled) {
		t.Fatalf("err = %v, want errVoiceDisabled", err)
	}
	if got := sink.Types(); !slices.Equal(got, []string{protocol.TypeError}) {
		t.Errorf("events = %v", got)
	}
}

func TestRealtimeAdapters(t *testing.T) {
	var closed atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if strings.HasSuffix(r.URL.Path, "/close") {
			closed.Add(1)
			io.WriteString(w, `{}`)
			return
		}
		var body struct {
			Tracks []map[string]string `json:"tracks"`
		}
		json.Unmarshal(raw, &body)
		tr := body.Tracks[0]
		json.NewEncoder(w).Encode(map[string]any{"tracks": []map[string]string{{
			"adapterId": tr["location"] + "-adapter",
			"sessionId": "sess-1",
			"trackName": tr["trackName"],
			"endpoint":  tr["endpoint"],
		}}})
	}))
	defer srv.Close()

	rt := realtime.New(realtime.Config{AccountID: "a", AppID: "p", APIToken: "t", BaseURL: srv.URL})
	h := newHarness(t, rt)
	a := h.mgr.Acquire("alice")

	ad, err := a.CreateRealtimeAdapters(context.Background(), "wss://in", "wss://out")
	if err != nil {
		t.Fatalf("CreateRealtimeAdapters: %v", err)
	}
	if ad.Ingest.AdapterID != "local-adapter" || ad.Stream.AdapterID != "remote-adapter" {
		t.Errorf("adapters = %+v", ad)
	}
	if ad.Ingest.TrackName != "chatrelay-alice" || ad.Stream.Endpoint != "wss://out" {
		t.Errorf("adapters = %+v", ad)
	}
	if _, ok := a.Adapters(); !ok {
		t.Error("Adapters not recorded")
	}
	// Open adapters keep the agent resident after the last release.
	h.mgr.Release(a)
	if h.mgr.Get("alice") != a {
		t.Error("agent with open adapters was evicted")
	}

	a.IngestAudio(context.Background(), []byte{1, 2})
	if err := h.mgr.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if closed.Load() != 2 {
		t.Errorf("closed adapters = %d, want 2", closed.Load())
	}
	if a.BufferedAudio() != 0 {
		t.Error("cleanup did not clear the audio buffer")
	}
	if _, ok := a.Adapters(); ok {
		t.Error("adapters still recorded after cleanup")
	}
}

func TestRealtimeAdapters_MissingConfig(t *testing.T) {
	h := newHarness(t, realtime.New(realtime.Config{AccountID: "a", APIToken: "t"}))
	_, err := h.mgr.Get("alice").CreateRealtimeAdapters(context.Background(), "wss://in", "wss://out")
	var ce *realtime.ConfigError
	if !errors.As(err, &ce) || ce.Key != "REALTIME_APP_ID" {
		t.Fatalf("err = %v, want ConfigError for REALTIME_APP_ID", err)
	}
}

func TestManager_ReleaseEvictsIdleAgent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	a := h.mgr.Acquire("alice")
	again := h.mgr.Acquire("alice")
	if again != a {
		t.Fatal("Acquire returned a different agent for the same user")
	}
	if _, err := a.HandleText(ctx, "hi", &protocol.Collector{}); err != nil {
		t.Fatalf("HandleText: %v", err)
	}

	h.mgr.Release(a)
	if h.mgr.Len() != 1 {
		t.Fatalf("Len = %d after first release, want 1", h.mgr.Len())
	}
	h.mgr.Release(again)
	if h.mgr.Len() != 0 {
		t.Fatalf("Len = %d after last release, want 0", h.mgr.Len())
	}

	// A fresh agent reloads the persisted history.
	b := h.mgr.Acquire("alice")
	defer h.mgr.Release(b)
	if b == a {
		t.Error("evicted agent was reused")
	}
	mem, err := b.Memory(ctx)
	if err != nil {
		t.Fatalf("Memory: %v", err)
	}
	if len(mem) != 2 {
		t.Errorf("reloaded memory len = %d, want 2", len(mem))
	}
}

func TestHandleText_LogsUndeliveredErrorEvent(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	h := newHarness(t, nil)
	gone := protocol.SinkFunc(func(context.Context, protocol.Event) error {
		return errors.New("connection gone")
	})
	if _, err := h.mgr.Get("alice").HandleText(context.Background(), "  ", gone); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("err = %v, want ErrEmptyMessage", err)
	}
	out := buf.String()
	if !strings.Contains(out, "could not deliver error event") || !strings.Contains(out, "connection gone") {
		t.Errorf("log = %q", out)
	}
}
