package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
backend:
  base_url: "http://backend:5000"
  timeout: 20s
  synthesis: separate
audio:
  device: portaudio
  sample_rate: 48000
  bars: 32
avatar:
  long_form_words: 12
  blink_interval: 3s
  blink_jitter: 500ms
persona:
  voice_id: voice-1
  preset: professional
providers:
  llm:
    name: mistral
    model: mistral-small-latest
  llm_fallbacks:
    - name: ollama
      model: llama3
  stt:
    name: whisper
    base_url: "http://localhost:8178"
    options:
      language: de
  tts:
    name: elevenlabs
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Backend.Timeout != 20*time.Second || cfg.Backend.Synthesis != config.SynthesisSeparate {
		t.Errorf("backend = %+v", cfg.Backend)
	}
	if cfg.Audio.Device != config.DevicePortAudio || cfg.Audio.SampleRate != 48000 || cfg.Audio.Bars != 32 {
		t.Errorf("audio = %+v", cfg.Audio)
	}
	// Unset fields in a partially written section still get defaults.
	if cfg.Audio.Channels != 1 {
		t.Errorf("audio.channels = %d, want default 1", cfg.Audio.Channels)
	}
	if cfg.Avatar.LongFormWords != 12 || cfg.Avatar.BlinkDuration != 150*time.Millisecond {
		t.Errorf("avatar = %+v", cfg.Avatar)
	}
	if cfg.Persona.Preset != "professional" || cfg.Persona.VoiceID != "voice-1" {
		t.Errorf("persona = %+v", cfg.Persona)
	}
	if len(cfg.Providers.LLMFallbacks) != 1 || cfg.Providers.LLMFallbacks[0].Name != "ollama" {
		t.Errorf("llm fallbacks = %+v", cfg.Providers.LLMFallbacks)
	}
	if got := cfg.Providers.STT.Option("language"); got != "de" {
		t.Errorf("stt language option = %q, want de", got)
	}
}

func TestLoadFromReader_EmptyYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := config.Default()
	if cfg.Server != def.Server || cfg.Avatar != def.Avatar || cfg.Chat != def.Chat {
		t.Errorf("empty document differs from Default()")
	}
	if cfg.Avatar.LongFormWords != 10 {
		t.Errorf("long_form_words = %d, want 10", cfg.Avatar.LongFormWords)
	}
	if cfg.API.RateLimitPerMinute != 30 || cfg.API.ModelID != "eleven_monolingual_v1" {
		t.Errorf("api = %+v", cfg.API)
	}
	if cfg.Chat.MaxTokens != 500 || cfg.Chat.Temperature != 0.7 {
		t.Errorf("chat = %+v", cfg.Chat)
	}
	if cfg.Avatar.Assets.Idle != "idle_avatar.png" || cfg.Avatar.Assets.TalkingLong != "talking_long.gif" {
		t.Errorf("assets = %+v", cfg.Avatar.Assets)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  colour: blue\n"))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(fullYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Providers.LLM.Name != "mistral" {
		t.Errorf("llm = %q", cfg.Providers.LLM.Name)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"log level", "server:\n  log_level: bananas\n", "server.log_level"},
		{"tls pair", "server:\n  tls:\n    cert_file: a.pem\n", "cert_file and key_file"},
		{"synthesis", "backend:\n  synthesis: later\n", "backend.synthesis"},
		{"device", "audio:\n  device: cassette\n", "audio.device"},
		{"channels", "audio:\n  channels: 6\n", "channels"},
		{"blink jitter", "avatar:\n  blink_interval: 1s\n  blink_jitter: 2s\n", "blink_jitter"},
		{"mouth range", "avatar:\n  mouth_min: 300ms\n  mouth_max: 100ms\n", "mouth_min"},
		{"temperature", "chat:\n  temperature: 3.5\n", "chat.temperature"},
		{"fallback name", "providers:\n  llm:\n    name: mistral\n  llm_fallbacks:\n    - model: x\n", "llm_fallbacks[0].name"},
		{"fallback without primary", "providers:\n  stt_fallbacks:\n    - name: openai\n", "without providers.stt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.want)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestValidate_JoinsAllErrors(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\naudio:\n  device: cassette\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "server.log_level") || !strings.Contains(msg, "audio.device") {
		t.Errorf("error should report both problems, got: %v", err)
	}
}

func TestValidate_UnknownProviderOnlyWarns(t *testing.T) {
	t.Parallel()
	if _, err := config.LoadFromReader(strings.NewReader("providers:\n  llm:\n    name: homegrown\n")); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Providers.LLM = config.ProviderEntry{Name: "mistral"}
	cfg.Providers.STT = config.ProviderEntry{Name: "openai", APIKey: "explicit"}
	cfg.Providers.TTS = config.ProviderEntry{Name: "elevenlabs"}
	cfg.Providers.LLMFallbacks = []config.ProviderEntry{{Name: "openai"}}

	env := map[string]string{
		config.EnvMistralKey:    "m-key",
		config.EnvOpenAIKey:     "o-key",
		config.EnvElevenLabsKey: "e-key",
		config.EnvBackendURL:    "http://remote:5000",
	}
	config.ApplyEnv(cfg, func(k string) string { return env[k] })

	if cfg.Providers.LLM.APIKey != "m-key" {
		t.Errorf("llm key = %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.APIKey != "explicit" {
		t.Errorf("explicit key overwritten: %q", cfg.Providers.STT.APIKey)
	}
	if cfg.Providers.TTS.APIKey != "e-key" {
		t.Errorf("tts key = %q", cfg.Providers.TTS.APIKey)
	}
	if cfg.Providers.LLMFallbacks[0].APIKey != "o-key" {
		t.Errorf("fallback key = %q", cfg.Providers.LLMFallbacks[0].APIKey)
	}
	if cfg.Backend.BaseURL != "http://remote:5000" {
		t.Errorf("backend url = %q", cfg.Backend.BaseURL)
	}
}
