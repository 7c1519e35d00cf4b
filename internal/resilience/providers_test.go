package resilience

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/chatrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/chatrelay/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/chatrelay/pkg/provider/tts/mock"
)

var cbCfg = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}

func TestLLMFallback_StreamFailover(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: errors.New("primary down")}
	secondary := &llmmock.Provider{StreamBody: llmmock.SSE("hi")}

	fb := NewLLMFallback(primary, "primary", cbCfg)
	fb.AddFallback("secondary", secondary)

	rc, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != llmmock.SSE("hi") {
		t.Errorf("body = %q", body)
	}
	if primary.StreamCallCount() != 1 || secondary.StreamCallCount() != 1 {
		t.Errorf("calls primary=%d secondary=%d", primary.StreamCallCount(), secondary.StreamCallCount())
	}
	if names := fb.Names(); len(names) != 2 {
		t.Errorf("Names = %v", names)
	}
}

func TestLLMFallback_CompletePrimaryOnly(t *testing.T) {
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from primary"}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from secondary"}}

	fb := NewLLMFallback(primary, "primary", cbCfg)
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q", resp.Content)
	}
	if len(secondary.CompleteCalls) != 0 {
		t.Errorf("secondary called %d times", len(secondary.CompleteCalls))
	}
}

func TestLLMFallback_AllFail(t *testing.T) {
	fb := NewLLMFallback(&llmmock.Provider{StreamErr: errTest}, "only", cbCfg)
	if _, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("whisper down")}
	secondary := &sttmock.Provider{Text: "hello"}

	fb := NewSTTFallback(primary, "whisper", cbCfg)
	fb.AddFallback("workers-ai", secondary)

	got, err := fb.Transcribe(context.Background(), stt.Audio{PCM: []byte{1, 2}})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello" {
		t.Errorf("text = %q", got)
	}
	if primary.CallCount() != 1 {
		t.Errorf("primary calls = %d", primary.CallCount())
	}
}

func TestTTSFallback_Failover(t *testing.T) {
	primary := &ttsmock.Provider{SynthesizeErr: errors.New("coqui down")}
	secondary := &ttsmock.Provider{SynthesizeChunks: [][]byte{[]byte("a"), []byte("b")}}

	fb := NewTTSFallback(primary, "coqui", cbCfg)
	fb.AddFallback("elevenlabs", secondary)

	ch, err := fb.Synthesize(context.Background(), "Hello.")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	var n int
	for range ch {
		n++
	}
	if n != 2 {
		t.Errorf("chunks = %d, want 2", n)
	}
	if got := secondary.Texts(); len(got) != 1 || got[0] != "Hello." {
		t.Errorf("secondary texts = %v", got)
	}
}
