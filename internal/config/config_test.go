package config_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/chatrelay/internal/config"
	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	llmmock "github.com/MrWong99/chatrelay/pkg/provider/llm/mock"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	sttmock "github.com/MrWong99/chatrelay/pkg/provider/stt/mock"
	"github.com/MrWong99/chatrelay/pkg/provider/tts"
	ttsmock "github.com/MrWong99/chatrelay/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  allowed_origins: ["app.example.com"]
  shutdown_timeout: 5s

providers:
  llm:
    name: workers-ai
    api_key: cf-token
    model: "@cf/meta/llama-3.1-8b-instruct"
    options:
      account_id: acct-1
  llm_fallbacks:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini
  stt:
    name: workers-ai
    api_key: cf-token
    model: "@cf/openai/whisper"
    options:
      account_id: acct-1
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      voice_id: rachel

agent:
  system_prompt: You are a helpful assistant.
  temperature: 0.7
  max_tokens: 512
  turn_timeout: 45s
  max_audio_buffer_bytes: 4096
  audio_frame_bytes: 1024
  sample_rate: 16000
  channels: 1

memory:
  backend: sqlite
  sqlite_path: /var/lib/chatrelay/history.db

realtime:
  account_id: acct-1
  app_id: app-1
  api_token: rt-token
`

func loadSample(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	return cfg
}

// ── LoadFromReader ───────────────────────────────────────────────────────────

func TestLoadFromReader_Sample(t *testing.T) {
	t.Parallel()
	cfg := loadSample(t)

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Server.ShutdownTimeout != 5*time.Second {
		t.Errorf("shutdown_timeout = %v", cfg.Server.ShutdownTimeout)
	}
	if got := cfg.Providers.LLM.Option("account_id"); got != "acct-1" {
		t.Errorf("llm account_id = %q", got)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "openai" {
		t.Errorf("llm_fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if cfg.Providers.TTS.Option("voice_id") != "rachel" {
		t.Errorf("tts voice_id = %q", cfg.Providers.TTS.Option("voice_id"))
	}
	if cfg.Agent.TurnTimeout != 45*time.Second {
		t.Errorf("turn_timeout = %v", cfg.Agent.TurnTimeout)
	}
	if cfg.Agent.SampleRate != 16000 || cfg.Agent.Channels != 1 {
		t.Errorf("format = %d/%d", cfg.Agent.SampleRate, cfg.Agent.Channels)
	}
	if cfg.Memory.Backend != config.MemorySQLite || cfg.Memory.SQLitePath != "/var/lib/chatrelay/history.db" {
		t.Errorf("memory = %+v", cfg.Memory)
	}
	if cfg.Realtime.AppID != "app-1" {
		t.Errorf("realtime.app_id = %q", cfg.Realtime.AppID)
	}
}

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: openai
memory:
  backend: memory
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.ListenAddr != config.DefaultListenAddr {
		t.Errorf("listen_addr = %q, want %q", cfg.Server.ListenAddr, config.DefaultListenAddr)
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Agent.TurnTimeout != config.DefaultTurnTimeout {
		t.Errorf("turn_timeout = %v", cfg.Agent.TurnTimeout)
	}
	if cfg.Agent.MaxAudioBufferBytes != config.DefaultMaxAudioBufferBytes {
		t.Errorf("max_audio_buffer_bytes = %d", cfg.Agent.MaxAudioBufferBytes)
	}
	if cfg.Agent.AudioFrameBytes != config.DefaultAudioFrameBytes {
		t.Errorf("audio_frame_bytes = %d", cfg.Agent.AudioFrameBytes)
	}
	if cfg.Agent.SampleRate != 48000 || cfg.Agent.Channels != 2 {
		t.Errorf("format = %d/%d, want 48000/2", cfg.Agent.SampleRate, cfg.Agent.Channels)
	}
	if cfg.Server.ServiceName != "chatrelay" {
		t.Errorf("service_name = %q", cfg.Server.ServiceName)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
providers:
  llm:
    name: openai
    modle: gpt-4o
`))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestLoadFromReader_EmptyDocumentNeedsLLM(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(""))
	if err == nil || !strings.Contains(err.Error(), "providers.llm.name") {
		t.Fatalf("err = %v, want providers.llm.name error", err)
	}
}

func TestApplyEnv_FillsRealtimeCredentials(t *testing.T) {
	t.Setenv("ACCOUNT_ID", "env-acct")
	t.Setenv("REALTIME_APP_ID", "env-app")
	t.Setenv("REALTIME_API_TOKEN", "env-token")

	cfg := &config.Config{Realtime: config.RealtimeConfig{AppID: "file-app"}}
	config.ApplyEnv(cfg)

	if cfg.Realtime.AccountID != "env-acct" {
		t.Errorf("account_id = %q", cfg.Realtime.AccountID)
	}
	if cfg.Realtime.AppID != "file-app" {
		t.Errorf("app_id = %q, file value must win", cfg.Realtime.AppID)
	}
	if cfg.Realtime.APIToken != "env-token" {
		t.Errorf("api_token = %q", cfg.Realtime.APIToken)
	}
}

func TestApplyDefaults_PostgresWhenDSNGiven(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Memory: config.MemoryConfig{PostgresDSN: "postgres://localhost/x"}}
	config.ApplyDefaults(cfg)
	if cfg.Memory.Backend != config.MemoryPostgres {
		t.Errorf("backend = %q, want postgres", cfg.Memory.Backend)
	}
	if cfg.Memory.SQLitePath != "" {
		t.Errorf("sqlite_path = %q, want empty", cfg.Memory.SQLitePath)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "chatrelay.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Name != "workers-ai" {
		t.Errorf("llm = %q", cfg.Providers.LLM.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.Load("/nonexistent/chatrelay.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestProviderEntry_Option(t *testing.T) {
	t.Parallel()
	e := config.ProviderEntry{Options: map[string]any{"account_id": "a", "n": 3, "nil": nil}}
	if e.Option("account_id") != "a" {
		t.Error("string option not returned")
	}
	if e.Option("n") != "" || e.Option("nil") != "" || e.Option("missing") != "" {
		t.Error("non-string options must read as empty")
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_CreateRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("mock", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	reg.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	reg.RegisterTTS("mock", func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })

	p, err := reg.CreateLLM(config.ProviderEntry{Name: "mock", Model: "m"})
	if err != nil || p == nil {
		t.Fatalf("CreateLLM: p=%v err=%v", p, err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateSTT: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistry_NotRegistered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "nope"})
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should name the provider: %v", err)
	}
	if _, err := reg.CreateTTS(config.ProviderEntry{Name: "nope"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("CreateTTS err = %v", err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	boom := errors.New("boom")
	reg.RegisterSTT("broken", func(config.ProviderEntry) (stt.Provider, error) { return nil, boom })
	if _, err := reg.CreateSTT(config.ProviderEntry{Name: "broken"}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("b", func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	reg.RegisterLLM("a", func(config.ProviderEntry) (llm.Provider, error) { return nil, nil })
	got := reg.Names("llm")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Names(llm) = %v, want [a b]", got)
	}
	if len(reg.Names("tts")) != 0 {
		t.Error("Names(tts) should be empty")
	}
}

// The registered mock must still satisfy the interface it is created as.
func TestRegistry_MockStreams(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	reg.RegisterLLM("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{StreamBody: llmmock.SSE("hi")}, nil
	})
	p, err := reg.CreateLLM(config.ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatal(err)
	}
	rc, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	raw, _ := io.ReadAll(rc)
	if !strings.Contains(string(raw), `"response":"hi"`) {
		t.Errorf("body = %q", raw)
	}
}
