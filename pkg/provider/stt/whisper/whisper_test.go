package whisper_test

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	"github.com/MrWong99/chatrelay/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that answers POST /inference with
// responseText after checking that the upload is a 16 kHz mono WAV file.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		wav, _ := io.ReadAll(f)
		format, _, err := audio.DecodeWAV(wav)
		if err != nil {
			t.Errorf("DecodeWAV: %v", err)
		}
		if format != (audio.Format{SampleRate: 16000, Channels: 1}) {
			t.Errorf("uploaded format = %v, want 16000Hz mono", format)
		}
		if got := r.FormValue("language"); got != "de" {
			t.Errorf("language = %q, want de", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// makeSpeechPCM generates a 440 Hz sine wave of the given number of 16-bit
// samples.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/48000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

// ---- tests ------------------------------------------------------------------

func TestNew_EmptyURL(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL")
	}
}

func TestTranscribe_ConvertsAndTrims(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "  Hallo Welt \n", &calls)

	p, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text, err := p.Transcribe(context.Background(), stt.Audio{
		PCM:    makeSpeechPCM(48000 * 2),
		Format: audio.Format{SampleRate: 48000, Channels: 2},
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "Hallo Welt" {
		t.Errorf("text = %q, want %q", text, "Hallo Welt")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_EmptyAudioSkipsRequest(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "never", &calls)
	p, _ := whisper.New(srv.URL)

	text, err := p.Transcribe(context.Background(), stt.Audio{})
	if err != nil || text != "" {
		t.Fatalf("Transcribe(empty) = %q, %v", text, err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Audio{PCM: makeSpeechPCM(1600)}); err == nil {
		t.Fatal("expected error on HTTP 500")
	}
}

func TestTranscribe_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "not json")
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Audio{PCM: makeSpeechPCM(1600)}); err == nil {
		t.Fatal("expected error on malformed response")
	}
}
