package main

import (
	"errors"
	"fmt"
	"log/slog"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/internal/resilience"
	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/provider/llm/anyllm"
	oaillm "github.com/voxpersona/voxpersona/pkg/provider/llm/openai"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
	oaistt "github.com/voxpersona/voxpersona/pkg/provider/stt/openai"
	"github.com/voxpersona/voxpersona/pkg/provider/stt/whisper"
	"github.com/voxpersona/voxpersona/pkg/provider/tts"
	"github.com/voxpersona/voxpersona/pkg/provider/tts/elevenlabs"
)

// applyProviderDefaults selects the providers the environment has keys for
// when the config names none: Mistral for chat, ElevenLabs for speech and
// OpenAI for transcription.
func applyProviderDefaults(cfg *config.Config, getenv func(string) string) {
	p := &cfg.Providers
	if p.LLM.Name == "" && getenv(config.EnvMistralKey) != "" {
		p.LLM = config.ProviderEntry{Name: "mistral", Model: anyllm.DefaultModel("mistral"), APIKey: getenv(config.EnvMistralKey)}
	}
	if p.TTS.Name == "" && getenv(config.EnvElevenLabsKey) != "" {
		p.TTS = config.ProviderEntry{Name: "elevenlabs", APIKey: getenv(config.EnvElevenLabsKey)}
	}
	if p.STT.Name == "" && getenv(config.EnvOpenAIKey) != "" {
		p.STT = config.ProviderEntry{Name: "openai", APIKey: getenv(config.EnvOpenAIKey)}
	}
}

// registerBuiltinProviders wires every provider factory into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	for _, name := range []string{"mistral", "anthropic", "gemini", "deepseek", "groq"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.NewOllama(entry.Model, opts...)
	})

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		model := entry.Model
		if model == "" {
			model = anyllm.DefaultModel("openai")
		}
		return oaillm.New(entry.APIKey, model, opts...)
	})

	// ── STT ───────────────────────────────────────────────────────────────────
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

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oaistt.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		return oaistt.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if f := entry.Option("output_format"); f != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(f))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// providers is the backend stack of the API server. Nil members are not
// configured.
type providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
}

// buildProviders instantiates the configured providers and wraps each kind
// in a failover group with per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (providers, error) {
	var (
		ps   providers
		errs []error
	)
	breaker := func(kind string) resilience.BreakerConfig {
		return resilience.BreakerConfig{
			Name: kind,
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("provider circuit changed", "kind", kind, "provider", name, "from", from, "to", to)
				m.RecordCircuitTransition(name, to.String())
			},
		}
	}

	if e := cfg.Providers.LLM; e.Name != "" {
		p, err := reg.CreateLLM(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("llm %q: %w", e.Name, err))
		} else {
			group := resilience.NewLLMFallback(e.Name, p, breaker("llm"))
			for _, fe := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(fe)
				if err != nil {
					errs = append(errs, fmt.Errorf("llm fallback %q: %w", fe.Name, err))
					continue
				}
				group.AddFallback(fe.Name, fp)
			}
			ps.LLM = group
			slog.Info("provider created", "kind", "llm", "name", e.Name, "model", p.Model(), "fallbacks", len(cfg.Providers.LLMFallbacks))
		}
	}

	if e := cfg.Providers.STT; e.Name != "" {
		p, err := reg.CreateSTT(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("stt %q: %w", e.Name, err))
		} else {
			group := resilience.NewSTTFallback(e.Name, p, breaker("stt"))
			for _, fe := range cfg.Providers.STTFallbacks {
				fp, err := reg.CreateSTT(fe)
				if err != nil {
					errs = append(errs, fmt.Errorf("stt fallback %q: %w", fe.Name, err))
					continue
				}
				group.AddFallback(fe.Name, fp)
			}
			ps.STT = group
			slog.Info("provider created", "kind", "stt", "name", e.Name, "fallbacks", len(cfg.Providers.STTFallbacks))
		}
	}

	if e := cfg.Providers.TTS; e.Name != "" {
		p, err := reg.CreateTTS(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("tts %q: %w", e.Name, err))
		} else {
			ps.TTS = resilience.NewTTSFallback(e.Name, p, breaker("tts"))
			slog.Info("provider created", "kind", "tts", "name", e.Name)
		}
	}

	if err := errors.Join(errs...); err != nil {
		return providers{}, fmt.Errorf("build providers: %w", err)
	}
	return ps, nil
}
