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

// ValidProviderNames lists known provider names per kind. [Validate] warns
// about names outside this list, since a registry may carry extras.
var ValidProviderNames = map[string][]string{
	"llm": {"mistral", "openai", "anthropic", "gemini", "ollama", "deepseek", "groq"},
	"stt": {"whisper", "openai"},
	"tts": {"elevenlabs"},
}

// Environment variables read by [ApplyEnv].
const (
	EnvMistralKey    = "MISTRAL_API_KEY"
	EnvOpenAIKey     = "OPENAI_API_KEY"
	EnvElevenLabsKey = "ELEVENLABS_API_KEY"
	EnvBackendURL    = "VOXPERSONA_BACKEND_URL"
)

// Load reads, defaults, and validates the YAML file at path. Environment
// overrides are not applied; call [ApplyEnv] before [Validate] when needed.
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

// LoadFromReader decodes YAML from r, fills defaults and validates. Unknown
// keys are rejected. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a fully defaulted Config.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills zero values. The chat and avatar numbers match the
// behaviour users of the original web app are used to.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, ":8080")
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Backend.BaseURL, "http://localhost:5000")
	setDefault(&cfg.Backend.Timeout, 60*time.Second)
	setDefault(&cfg.Backend.Synthesis, SynthesisInline)

	setDefault(&cfg.Audio.Device, DeviceBrowser)
	setDefault(&cfg.Audio.SampleRate, 16000)
	setDefault(&cfg.Audio.Channels, 1)
	setDefault(&cfg.Audio.SampleInterval, 50*time.Millisecond)
	setDefault(&cfg.Audio.Bars, 20)

	setDefault(&cfg.Avatar.LongFormWords, 10)
	setDefault(&cfg.Avatar.BlinkInterval, 2*time.Second)
	setDefault(&cfg.Avatar.BlinkJitter, time.Second)
	setDefault(&cfg.Avatar.BlinkDuration, 150*time.Millisecond)
	setDefault(&cfg.Avatar.SpeechRate, 2.5)
	setDefault(&cfg.Avatar.MouthMin, 80*time.Millisecond)
	setDefault(&cfg.Avatar.MouthMax, 250*time.Millisecond)
	setDefault(&cfg.Avatar.Assets.Idle, "idle_avatar.png")
	setDefault(&cfg.Avatar.Assets.Talking, "talking.gif")
	setDefault(&cfg.Avatar.Assets.TalkingLong, "talking_long.gif")

	setDefault(&cfg.API.ListenAddr, ":5000")
	setDefault(&cfg.API.RateLimitPerMinute, 30)
	setDefault(&cfg.API.ModelID, "eleven_monolingual_v1")
	if cfg.API.CORSOrigins == nil {
		cfg.API.CORSOrigins = []string{"*"}
	}

	setDefault(&cfg.Chat.MaxTokens, 500)
	setDefault(&cfg.Chat.Temperature, 0.7)
}

func setDefault[T comparable](field *T, v T) {
	var zero T
	if *field == zero {
		*field = v
	}
}

// ApplyEnv fills empty API keys and the backend URL from the environment.
// lookup is usually os.Getenv.
func ApplyEnv(cfg *Config, lookup func(string) string) {
	keyFor := map[string]string{
		"mistral":    EnvMistralKey,
		"openai":     EnvOpenAIKey,
		"elevenlabs": EnvElevenLabsKey,
	}
	fill := func(e *ProviderEntry) {
		if env, ok := keyFor[e.Name]; ok && e.APIKey == "" {
			e.APIKey = lookup(env)
		}
	}
	fill(&cfg.Providers.LLM)
	fill(&cfg.Providers.STT)
	fill(&cfg.Providers.TTS)
	for i := range cfg.Providers.LLMFallbacks {
		fill(&cfg.Providers.LLMFallbacks[i])
	}
	for i := range cfg.Providers.STTFallbacks {
		fill(&cfg.Providers.STTFallbacks[i])
	}
	if v := lookup(EnvBackendURL); v != "" {
		cfg.Backend.BaseURL = v
	}
}

// Validate checks cfg for coherence and returns every problem joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	if cfg.Backend.Synthesis != "" && !cfg.Backend.Synthesis.IsValid() {
		errs = append(errs, fmt.Errorf("backend.synthesis %q is invalid; valid values: inline, separate", cfg.Backend.Synthesis))
	}
	if cfg.Backend.Timeout < 0 {
		errs = append(errs, errors.New("backend.timeout must not be negative"))
	}

	if cfg.Audio.Device != "" && !cfg.Audio.Device.IsValid() {
		errs = append(errs, fmt.Errorf("audio.device %q is invalid; valid values: browser, portaudio", cfg.Audio.Device))
	}
	if cfg.Audio.SampleRate < 0 || cfg.Audio.Channels < 0 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio: sample_rate %d / channels %d out of range", cfg.Audio.SampleRate, cfg.Audio.Channels))
	}
	if cfg.Audio.Bars < 0 {
		errs = append(errs, errors.New("audio.bars must not be negative"))
	}

	av := cfg.Avatar
	if av.LongFormWords < 0 {
		errs = append(errs, errors.New("avatar.long_form_words must not be negative"))
	}
	if av.BlinkJitter < 0 || (av.BlinkInterval > 0 && av.BlinkJitter >= av.BlinkInterval) {
		errs = append(errs, fmt.Errorf("avatar.blink_jitter %v must be in [0, blink_interval)", av.BlinkJitter))
	}
	if av.MouthMin > 0 && av.MouthMax > 0 && av.MouthMin > av.MouthMax {
		errs = append(errs, fmt.Errorf("avatar.mouth_min %v exceeds mouth_max %v", av.MouthMin, av.MouthMax))
	}
	if av.SpeechRate < 0 {
		errs = append(errs, errors.New("avatar.speech_rate must not be negative"))
	}

	if cfg.API.RateLimitPerMinute < 0 {
		errs = append(errs, errors.New("api.rate_limit_per_minute must not be negative"))
	}
	if cfg.Chat.Temperature < 0 || cfg.Chat.Temperature > 2 {
		errs = append(errs, fmt.Errorf("chat.temperature %.2f is out of range [0, 2]", cfg.Chat.Temperature))
	}
	if cfg.Chat.MaxTokens < 0 {
		errs = append(errs, errors.New("chat.max_tokens must not be negative"))
	}

	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	for i, e := range cfg.Providers.LLMFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.llm_fallbacks[%d].name is required", i))
		}
		validateProviderName("llm", e.Name)
	}
	for i, e := range cfg.Providers.STTFallbacks {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.stt_fallbacks[%d].name is required", i))
		}
		validateProviderName("stt", e.Name)
	}
	if len(cfg.Providers.LLMFallbacks) > 0 && cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm_fallbacks set without providers.llm"))
	}
	if len(cfg.Providers.STTFallbacks) > 0 && cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt_fallbacks set without providers.stt"))
	}

	return errors.Join(errs...)
}

func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	if slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party registration",
		"kind", kind,
		"name", name,
		"known", ValidProviderNames[kind],
	)
}
