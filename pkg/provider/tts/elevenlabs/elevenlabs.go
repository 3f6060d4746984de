// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/voxpersona/voxpersona/pkg/provider/tts"
	"github.com/voxpersona/voxpersona/pkg/types"
)

const (
	defaultWSEndpointFmt = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	defaultVoicesURL     = "https://api.elevenlabs.io/v1/voices"
	defaultModel         = "eleven_flash_v2_5"
	defaultOutputFmt     = "mp3_44100_128"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the default ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the MP3 output format, e.g. "mp3_22050_32". Raw PCM
// formats are rejected because the players only decode containers.
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithEndpoints overrides the WebSocket URL template and the voices URL. The
// template receives voice ID, model ID and output format in that order.
func WithEndpoints(wsFmt, voicesURL string) Option {
	return func(p *Provider) {
		p.wsFmt = wsFmt
		p.voicesURL = voicesURL
	}
}

// WithHTTPClient replaces the HTTP client used for the voices listing.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	wsFmt        string
	voicesURL    string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		wsFmt:        defaultWSEndpointFmt,
		voicesURL:    defaultVoicesURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if !strings.HasPrefix(p.outputFormat, "mp3_") {
		return nil, fmt.Errorf("elevenlabs: unsupported output format %q", p.outputFormat)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent for each text fragment.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// boiMessage is the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

var defaultVoiceSettings = voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}

// Synthesize opens one WebSocket stream, sends the whole text followed by the
// flush marker, and concatenates the audio chunks until the final message.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (types.SynthesizedAudio, error) {
	if strings.TrimSpace(req.Text) == "" {
		return types.SynthesizedAudio{}, errors.New("elevenlabs: text must not be empty")
	}
	if req.VoiceID == "" {
		return types.SynthesizedAudio{}, errors.New("elevenlabs: voice ID must not be empty")
	}
	model := req.ModelID
	if model == "" {
		model = p.model
	}

	conn, _, err := websocket.Dial(ctx, p.streamURL(req.VoiceID, model), nil)
	if err != nil {
		return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(4 << 20)

	vs := defaultVoiceSettings
	msgs := []any{
		// ElevenLabs requires a non-empty first text value.
		boiMessage{Text: " ", VoiceSettings: &vs, XiAPIKey: p.apiKey},
		textMessage{Text: ensureTrailingSpace(req.Text)},
		textMessage{Text: ""},
	}
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: encode message: %w", err)
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	var buf []byte
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure && len(buf) > 0 {
				break
			}
			return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: read: %w", err)
		}
		var resp audioResponse
		if err := json.Unmarshal(msg, &resp); err != nil {
			return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: decode response: %w", err)
		}
		if resp.Error != "" {
			return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: server error: %s %s", resp.Error, resp.Message)
		}
		if resp.Audio != "" {
			chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
			if err != nil {
				return types.SynthesizedAudio{}, fmt.Errorf("elevenlabs: decode audio chunk: %w", err)
			}
			buf = append(buf, chunk...)
		}
		if resp.IsFinal {
			break
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")

	if len(buf) == 0 {
		return types.SynthesizedAudio{}, errors.New("elevenlabs: stream produced no audio")
	}
	return types.SynthesizedAudio{Data: buf, Format: "mp3"}, nil
}

func (p *Provider) streamURL(voiceID, model string) string {
	return fmt.Sprintf(p.wsFmt, voiceID, model, p.outputFormat)
}

// The stream input API buffers until it sees a word boundary.
func ensureTrailingSpace(s string) string {
	if strings.HasSuffix(s, " ") {
		return s
	}
	return s + " "
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID     string            `json:"voice_id"`
	Name        string            `json:"name"`
	Category    string            `json:"category"`
	Description string            `json:"description"`
	Labels      map[string]string `json:"labels"`
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.voicesURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	profiles, err := parseVoicesResponse(data)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// parseVoicesResponse maps the /v1/voices body onto VoiceProfile values. The
// description falls back to the "description" label, which is where older
// premade voices keep it.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		desc := v.Description
		if desc == "" {
			desc = v.Labels["description"]
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:          v.VoiceID,
			Name:        v.Name,
			Category:    v.Category,
			Description: desc,
			Accent:      v.Labels["accent"],
			Age:         v.Labels["age"],
			Gender:      v.Labels["gender"],
		})
	}
	return profiles, nil
}
