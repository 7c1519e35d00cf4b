package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/chatrelay/internal/config"
	"github.com/MrWong99/chatrelay/internal/observe"
	"github.com/MrWong99/chatrelay/internal/resilience"
	"github.com/MrWong99/chatrelay/pkg/audio"
	"github.com/MrWong99/chatrelay/pkg/provider/llm"
	"github.com/MrWong99/chatrelay/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/chatrelay/pkg/provider/llm/openai"
	wallm "github.com/MrWong99/chatrelay/pkg/provider/llm/workersai"
	"github.com/MrWong99/chatrelay/pkg/provider/stt"
	"github.com/MrWong99/chatrelay/pkg/provider/stt/deepgram"
	"github.com/MrWong99/chatrelay/pkg/provider/stt/whisper"
	wastt "github.com/MrWong99/chatrelay/pkg/provider/stt/workersai"
	"github.com/MrWong99/chatrelay/pkg/provider/tts"
	"github.com/MrWong99/chatrelay/pkg/provider/tts/coqui"
	"github.com/MrWong99/chatrelay/pkg/provider/tts/elevenlabs"
	watts "github.com/MrWong99/chatrelay/pkg/provider/tts/workersai"
	"github.com/MrWong99/chatrelay/pkg/provider/workersai"
)

// Providers holds one interface value per provider slot. A nil STT or TTS
// means voice input or voice output is disabled.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider

	// LLMName labels model metrics and errors.
	LLMName string
}

// anyllmBackends share one factory shape: optional APIKey + optional BaseURL.
var anyllmBackends = []string{
	"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
}

// RegisterBuiltinProviders wires all built-in provider factories into reg.
// accountID is the Cloudflare account used by workers-ai entries that do not
// set options.account_id; output is the PCM format replies are spoken in.
func RegisterBuiltinProviders(reg *config.Registry, accountID string, output audio.Format) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("workers-ai", func(entry config.ProviderEntry) (llm.Provider, error) {
		// Streams stay open for the whole reply, so no overall client timeout.
		client, err := workersAIClient(entry, accountID, &http.Client{})
		if err != nil {
			return nil, err
		}
		return wallm.New(client, entry.Model)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.Option("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyllmBackends {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("workers-ai", func(entry config.ProviderEntry) (stt.Provider, error) {
		client, err := workersAIClient(entry, accountID, nil)
		if err != nil {
			return nil, err
		}
		return wastt.New(client, entry.Model)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("workers-ai", func(entry config.ProviderEntry) (tts.Provider, error) {
		client, err := workersAIClient(entry, accountID, nil)
		if err != nil {
			return nil, err
		}
		var opts []watts.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, watts.WithLanguage(lang))
		}
		return watts.New(client, entry.Model, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		opts := []coqui.Option{coqui.WithOutputFormat(output)}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if speaker := entry.Option("speaker"); speaker != "" {
			opts = append(opts, coqui.WithSpeaker(speaker))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := entry.Option("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithEndpoint(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, entry.Option("voice_id"), opts...)
	})
}

// workersAIClient builds a Workers AI client for entry. A nil hc keeps the
// client's default timeout.
func workersAIClient(entry config.ProviderEntry, accountID string, hc *http.Client) (*workersai.Client, error) {
	if acct := entry.Option("account_id"); acct != "" {
		accountID = acct
	}
	var opts []workersai.Option
	if entry.BaseURL != "" {
		opts = append(opts, workersai.WithBaseURL(entry.BaseURL))
	}
	if hc != nil {
		opts = append(opts, workersai.WithHTTPClient(hc))
	}
	return workersai.New(accountID, entry.APIKey, opts...)
}

// BuildProviders instantiates the configured providers through reg. Fallback
// entries are wrapped in resilience groups whose failures feed m.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fbCfg := func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			OnFailure: func(provider string, err error) {
				slog.Warn("provider attempt failed", "kind", kind, "provider", provider, "err", err)
				m.RecordProviderError(context.Background(), provider, kind)
			},
		}
	}

	p := &Providers{LLMName: cfg.Providers.LLM.Name}

	// ── LLM ───────────────────────────────────────────────────────────────────
	primary, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm %q: %w", cfg.Providers.LLM.Name, err)
	}
	p.LLM = primary
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, cfg.Providers.LLM.Name, fbCfg("llm"))
		for _, entry := range cfg.Providers.LLMFallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, fb)
		}
		p.LLM = group
	}

	// ── STT ───────────────────────────────────────────────────────────────────
	if cfg.Providers.STT.Name != "" {
		primary, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("app: create stt %q: %w", cfg.Providers.STT.Name, err)
		}
		p.STT = primary
		if len(cfg.Providers.STTFallbacks) > 0 {
			group := resilience.NewSTTFallback(primary, cfg.Providers.STT.Name, fbCfg("stt"))
			for _, entry := range cfg.Providers.STTFallbacks {
				fb, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("app: create stt fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
			}
			p.STT = group
		}
	}

	// ── TTS ───────────────────────────────────────────────────────────────────
	if cfg.Providers.TTS.Name != "" {
		primary, err := reg.CreateTTS(cfg.Providers.TTS)
		if err != nil {
			return nil, fmt.Errorf("app: create tts %q: %w", cfg.Providers.TTS.Name, err)
		}
		p.TTS = primary
		if len(cfg.Providers.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(primary, cfg.Providers.TTS.Name, fbCfg("tts"))
			for _, entry := range cfg.Providers.TTSFallbacks {
				fb, err := reg.CreateTTS(entry)
				if err != nil {
					return nil, fmt.Errorf("app: create tts fallback %q: %w", entry.Name, err)
				}
				group.AddFallback(entry.Name, fb)
			}
			p.TTS = group
		}
	}

	return p, nil
}
