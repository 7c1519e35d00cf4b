package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"
)

// fakeServer accepts one stream-input connection, records the client
// messages and answers with the given audio frames.
type fakeServer struct {
	mu       sync.Mutex
	query    string
	path     string
	received []map[string]any
}

func (f *fakeServer) handler(t *testing.T, frames [][]byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer c.CloseNow()

		f.mu.Lock()
		f.path = r.URL.Path
		f.query = r.URL.RawQuery
		f.mu.Unlock()

		ctx := r.Context()
		for {
			_, raw, err := c.Read(ctx)
			if err != nil {
				return
			}
			var m map[string]any
			json.Unmarshal(raw, &m)
			f.mu.Lock()
			f.received = append(f.received, m)
			f.mu.Unlock()
			if m["text"] == "" {
				break
			}
		}
		for _, fr := range frames {
			msg := fmt.Sprintf(`{"audio":%q,"isFinal":false}`, base64.StdEncoding.EncodeToString(fr))
			if err := c.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
				return
			}
		}
		c.Write(ctx, websocket.MessageText, []byte(`{"audio":null,"isFinal":true}`))
		c.Close(websocket.StatusNormalClosure, "")
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "voice"); err == nil {
		t.Error("expected error for empty apiKey")
	}
	if _, err := New("key", ""); err == nil {
		t.Error("expected error for empty voiceID")
	}
}

func TestStreamURL(t *testing.T) {
	p, _ := New("key", "v 1", WithModel("m2"), WithOutputFormat("pcm_24000"), WithEndpoint("wss://example.test/v1/"))
	got := p.streamURL()
	want := "wss://example.test/v1/text-to-speech/v%201/stream-input?model_id=m2&output_format=pcm_24000"
	if got != want {
		t.Errorf("streamURL = %q, want %q", got, want)
	}
}

func TestSynthesize_StreamsAudio(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler(t, [][]byte{[]byte("pcm-1"), []byte("pcm-2")}))
	defer srv.Close()

	p, err := New("xi-key", "voice-a", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.Synthesize(context.Background(), "Hello world.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var got []string
	for c := range ch {
		got = append(got, string(c))
	}
	if strings.Join(got, ",") != "pcm-1,pcm-2" {
		t.Errorf("audio = %v", got)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.path != "/text-to-speech/voice-a/stream-input" {
		t.Errorf("path = %q", fs.path)
	}
	if len(fs.received) != 3 {
		t.Fatalf("received %d messages, want 3", len(fs.received))
	}
	if fs.received[0]["xi_api_key"] != "xi-key" {
		t.Errorf("BOI = %v", fs.received[0])
	}
	if fs.received[1]["text"] != "Hello world. " {
		t.Errorf("text message = %v", fs.received[1])
	}
	if fs.received[2]["text"] != "" {
		t.Errorf("flush message = %v", fs.received[2])
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("key", "voice", WithEndpoint("ws://127.0.0.1:1"))
	ch, err := p.Synthesize(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("expected closed channel")
	}
}

func TestSynthesize_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	p, _ := New("key", "voice", WithEndpoint(wsURL(srv)))
	if _, err := p.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSynthesize_ServerErrorEndsStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for range 3 {
			if _, _, err := c.Read(r.Context()); err != nil {
				return
			}
		}
		c.Write(r.Context(), websocket.MessageText, []byte(`{"error":"quota_exceeded","message":"out of credits"}`))
		c.Read(r.Context())
	}))
	defer srv.Close()

	p, _ := New("key", "voice", WithEndpoint(wsURL(srv)))
	ch, err := p.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	n := 0
	for range ch {
		n++
	}
	if n != 0 {
		t.Errorf("got %d chunks, want 0", n)
	}
}
