// Package openai provides a transcription provider backed by the OpenAI audio
// transcription API (whisper-1 and the gpt-4o transcribe models).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
)

const defaultModel = oai.AudioModelWhisper1

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using OpenAI's transcription endpoint.
type Provider struct {
	client   oai.Client
	model    oai.AudioModel
	language string
}

type config struct {
	baseURL  string
	model    string
	language string
	timeout  time.Duration
}

// Option is a functional option for configuring the provider.
type Option func(*config)

// WithBaseURL overrides the API base URL for OpenAI-compatible servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel selects the transcription model. Defaults to whisper-1.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithLanguage sets an ISO-639-1 language hint. Empty lets the model detect.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New creates a provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{timeout: 30 * time.Second}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}

	model := defaultModel
	if cfg.model != "" {
		model = oai.AudioModel(cfg.model)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, language: cfg.language}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	if clip.Empty() {
		return stt.Transcript{}, errors.New("openai stt: empty clip")
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(clip.Data), "audio."+clip.Extension(), clip.MIMEType),
		Model: p.model,
	}
	if p.language != "" {
		params.Language = oai.String(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: transcription: %w", err)
	}
	return stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: p.language}, nil
}
