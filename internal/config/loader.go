package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultSQLitePath          = "chatrelay.db"
	DefaultTurnTimeout         = 2 * time.Minute
	DefaultShutdownTimeout     = 15 * time.Second
	DefaultMaxAudioBufferBytes = 1 << 20
	DefaultAudioFrameBytes     = 32 * 1024
	DefaultSampleRate          = 48000
	DefaultChannels            = 2
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"workers-ai", "openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"workers-ai", "whisper", "deepgram"},
	"tts": {"workers-ai", "coqui", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills in environment
// overrides and defaults, and validates the result. An empty document yields
// the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv fills empty credentials from the environment: ACCOUNT_ID,
// REALTIME_APP_ID, REALTIME_API_TOKEN and DATABASE_URL.
func ApplyEnv(cfg *Config) {
	setFromEnv(&cfg.Realtime.AccountID, "ACCOUNT_ID")
	setFromEnv(&cfg.Realtime.AppID, "REALTIME_APP_ID")
	setFromEnv(&cfg.Realtime.APIToken, "REALTIME_API_TOKEN")
	setFromEnv(&cfg.Memory.PostgresDSN, "DATABASE_URL")
}

func setFromEnv(dst *string, key string) {
	if *dst != "" {
		return
	}
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.ServiceName == "" {
		cfg.Server.ServiceName = "chatrelay"
	}
	if cfg.Agent.TurnTimeout <= 0 {
		cfg.Agent.TurnTimeout = DefaultTurnTimeout
	}
	if cfg.Agent.MaxAudioBufferBytes <= 0 {
		cfg.Agent.MaxAudioBufferBytes = DefaultMaxAudioBufferBytes
	}
	if cfg.Agent.AudioFrameBytes <= 0 {
		cfg.Agent.AudioFrameBytes = DefaultAudioFrameBytes
	}
	if cfg.Agent.SampleRate <= 0 {
		cfg.Agent.SampleRate = DefaultSampleRate
	}
	if cfg.Agent.Channels <= 0 {
		cfg.Agent.Channels = DefaultChannels
	}
	if cfg.Memory.Backend == "" {
		switch {
		case cfg.Memory.PostgresDSN != "":
			cfg.Memory.Backend = MemoryPostgres
		default:
			cfg.Memory.Backend = MemorySQLite
		}
	}
	if cfg.Memory.Backend == MemorySQLite && cfg.Memory.SQLitePath == "" {
		cfg.Memory.SQLitePath = DefaultSQLitePath
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("server.max_body_bytes %d must not be negative", cfg.Server.MaxBodyBytes))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, fb := range cfg.Providers.LLMFallbacks {
		errs = append(errs, validateFallback(fmt.Sprintf("providers.llm_fallbacks[%d]", i), "llm", fb)...)
	}
	for i, fb := range cfg.Providers.STTFallbacks {
		errs = append(errs, validateFallback(fmt.Sprintf("providers.stt_fallbacks[%d]", i), "stt", fb)...)
	}
	for i, fb := range cfg.Providers.TTSFallbacks {
		errs = append(errs, validateFallback(fmt.Sprintf("providers.tts_fallbacks[%d]", i), "tts", fb)...)
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks requires providers.stt"))
	}
	if len(cfg.Providers.TTSFallbacks) > 0 && cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts_fallbacks requires providers.tts"))
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice turns will be rejected")
	}

	// Agent
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}
	if cfg.Agent.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens %d must not be negative", cfg.Agent.MaxTokens))
	}
	if cfg.Agent.Channels > 2 {
		errs = append(errs, fmt.Errorf("agent.channels %d is unsupported; valid values: 1, 2", cfg.Agent.Channels))
	}
	if cfg.Agent.AudioFrameBytes > 0 && cfg.Agent.AudioFrameBytes%2 != 0 {
		errs = append(errs, fmt.Errorf("agent.audio_frame_bytes %d must be even to keep 16-bit samples whole", cfg.Agent.AudioFrameBytes))
	}

	// Memory
	if cfg.Memory.Backend != "" && !cfg.Memory.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("memory.backend %q is invalid; valid values: postgres, sqlite, memory", cfg.Memory.Backend))
	}
	if cfg.Memory.Backend == MemoryPostgres && cfg.Memory.PostgresDSN == "" {
		errs = append(errs, errors.New("memory.postgres_dsn is required when memory.backend is postgres"))
	}
	if cfg.Memory.Backend == MemorySQLite && cfg.Memory.SQLitePath == "" {
		errs = append(errs, errors.New("memory.sqlite_path is required when memory.backend is sqlite"))
	}
	if cfg.Memory.Backend == MemoryInProcess {
		slog.Warn("memory.backend is memory; conversation history will not survive a restart")
	}

	return errors.Join(errs...)
}

func validateFallback(prefix, kind string, entry ProviderEntry) []error {
	if entry.Name == "" {
		return []error{fmt.Errorf("%s.name is required", prefix)}
	}
	validateProviderName(kind, entry.Name)
	return nil
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
