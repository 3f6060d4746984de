// Package config provides the configuration schema, loader, hot-reload watcher
// and provider registry for voxpersona.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level returns the slog level for l. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SynthesisMode decides where reply audio comes from.
type SynthesisMode string

const (
	// SynthesisInline uses the audio carried by the chat response and only
	// calls generate-voice when the response has none.
	SynthesisInline SynthesisMode = "inline"

	// SynthesisSeparate always calls generate-voice with the reply text.
	SynthesisSeparate SynthesisMode = "separate"
)

// IsValid reports whether m is a recognised synthesis mode.
func (m SynthesisMode) IsValid() bool {
	return m == SynthesisInline || m == SynthesisSeparate
}

// Device selects the audio device backend of a client front end.
type Device string

const (
	// DeviceBrowser runs microphone and speaker in a connected browser.
	DeviceBrowser Device = "browser"

	// DevicePortAudio uses the host's default sound devices.
	DevicePortAudio Device = "portaudio"
)

// IsValid reports whether d is a recognised device.
func (d Device) IsValid() bool {
	return d == DeviceBrowser || d == DevicePortAudio
}

// Config is the root configuration, loaded with [Load] or [LoadFromReader].
// Durations are written as Go duration strings ("50ms", "2s").
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backend   BackendConfig   `yaml:"backend"`
	Audio     AudioConfig     `yaml:"audio"`
	Avatar    AvatarConfig    `yaml:"avatar"`
	Persona   PersonaConfig   `yaml:"persona"`
	API       APIConfig       `yaml:"api"`
	Chat      ChatConfig      `yaml:"chat"`
	Providers ProvidersConfig `yaml:"providers"`
}

// ServerConfig holds the client front end's listener and logging.
type ServerConfig struct {
	// ListenAddr is where the web front end serves the UI and bridge.
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set. Browsers only grant microphone access to
	// secure origins other than localhost.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds PEM certificate paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// BackendConfig points a client front end at the collaborator API.
type BackendConfig struct {
	// BaseURL is the API root without the /api prefix.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds each collaborator request.
	Timeout time.Duration `yaml:"timeout"`

	Synthesis SynthesisMode `yaml:"synthesis"`
}

// AudioConfig tunes capture and the level meter.
type AudioConfig struct {
	Device Device `yaml:"device"`

	// SampleRate and Channels describe the uploaded clip.
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`

	// SampleInterval is the level meter refresh period.
	SampleInterval time.Duration `yaml:"sample_interval"`

	// Bars is the number of visual level bars.
	Bars int `yaml:"bars"`
}

// AvatarConfig holds the animation policy constants.
type AvatarConfig struct {
	// LongFormWords is the word count above which the long talking pose is
	// used.
	LongFormWords int `yaml:"long_form_words"`

	BlinkInterval time.Duration `yaml:"blink_interval"`
	BlinkJitter   time.Duration `yaml:"blink_jitter"`
	BlinkDuration time.Duration `yaml:"blink_duration"`

	// SpeechRate is the assumed words per second when the player reports no
	// duration.
	SpeechRate float64 `yaml:"speech_rate"`

	// MouthMin and MouthMax clamp the mouth open/close half period.
	MouthMin time.Duration `yaml:"mouth_min"`
	MouthMax time.Duration `yaml:"mouth_max"`

	// AssetsDir is where pose assets are looked up.
	AssetsDir string       `yaml:"assets_dir"`
	Assets    AvatarAssets `yaml:"assets"`
}

// AvatarAssets names the file for each base pose.
type AvatarAssets struct {
	Idle        string `yaml:"idle"`
	Talking     string `yaml:"talking"`
	TalkingLong string `yaml:"talking_long"`
}

// PersonaConfig selects who the user is talking to.
type PersonaConfig struct {
	// VoiceID is the synthesis voice. Empty picks the first listed voice.
	VoiceID string `yaml:"voice_id"`

	// Preset names a built-in personality (friendly, professional, creative,
	// casual). Empty uses the default personality.
	Preset string `yaml:"preset"`

	// Personality is free text that overrides Preset when set.
	Personality string `yaml:"personality"`
}

// APIConfig configures the collaborator API server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`

	// StaticDir, when set, is served at / with index.html fallback.
	StaticDir string `yaml:"static_dir"`

	CORSOrigins []string `yaml:"cors_origins"`

	// RateLimitPerMinute caps chat requests across all clients.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// ModelID is the default synthesis model for generate-voice.
	ModelID string `yaml:"model_id"`
}

// ChatConfig holds the sampling parameters of chat requests.
type ChatConfig struct {
	MaxTokens          int     `yaml:"max_tokens"`
	Temperature        float64 `yaml:"temperature"`
	DefaultPersonality string  `yaml:"default_personality"`
}

// ProvidersConfig selects the backend providers of the API server. Fallbacks
// are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
}

// ProviderEntry is the configuration block shared by all provider kinds. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values (e.g. "language" for whisper).
	Options map[string]any `yaml:"options"`
}

// Option returns Options[key] as a string, or "" when absent or not a
// string.
func (e ProviderEntry) Option(key string) string {
	s, _ := e.Options[key].(string)
	return s
}
