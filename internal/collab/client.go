// Package collab is the HTTP client of the collaborator API: voices,
// transcription, chat and speech synthesis, served under /api.
//
// Every failed call returns an error that is either a transport error or an
// [*APIError] carrying the HTTP status and the server's error body.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/types"
)

// maxBody caps how much of a response is read; replies carry audio.
const maxBody = 32 << 20

// APIError is a non-2xx answer from the collaborator API.
type APIError struct {
	Status     int
	Message    string
	Details    string
	RetryAfter string
}

// Error implements error.
func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Details != "" {
		return fmt.Sprintf("collab: %d %s (%s)", e.Status, msg, e.Details)
	}
	return fmt.Sprintf("collab: %d %s", e.Status, msg)
}

// IsRateLimited reports whether err is a 429 from the API.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Status == http.StatusTooManyRequests
}

// Option configures a [Client].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default client. Default:
// 60s, which covers chat plus inline synthesis.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithModelID sets the synthesis model sent with generate-voice. Empty
// leaves the server default.
func WithModelID(id string) Option {
	return func(c *Client) { c.modelID = id }
}

// Client talks to one collaborator API server. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	modelID string
}

// New returns a Client for baseURL, e.g. "http://localhost:5000".
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("collab: baseURL must not be empty")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health fetches the server status.
func (c *Client) Health(ctx context.Context) (HealthResponse, error) {
	var out HealthResponse
	err := c.doJSON(ctx, http.MethodGet, PathHealth, nil, &out)
	return out, err
}

// Voices lists the synthesis voices.
func (c *Client) Voices(ctx context.Context) ([]types.VoiceProfile, error) {
	var out VoicesResponse
	if err := c.doJSON(ctx, http.MethodGet, PathVoices, nil, &out); err != nil {
		return nil, err
	}
	return out.Voices, nil
}

// Personalities lists the server's personality presets.
func (c *Client) Personalities(ctx context.Context) (PersonalitiesResponse, error) {
	var out PersonalitiesResponse
	err := c.doJSON(ctx, http.MethodGet, PathPersonalities, nil, &out)
	return out, err
}

// Transcribe uploads clip as recording.<ext> and returns the transcript.
func (c *Client) Transcribe(ctx context.Context, clip audio.Clip) (string, error) {
	if clip.Empty() {
		return "", errors.New("collab: transcribe: empty clip")
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, TranscribeField, "recording."+clip.Extension()))
	hdr.Set("Content-Type", clip.MIMEType)
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return "", fmt.Errorf("collab: transcribe: %w", err)
	}
	if _, err := part.Write(clip.Data); err != nil {
		return "", fmt.Errorf("collab: transcribe: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("collab: transcribe: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathTranscribe, &body)
	if err != nil {
		return "", fmt.Errorf("collab: transcribe: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out TranscribeResponse
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	return out.Transcript, nil
}

// ChatReply is the decoded answer of [Client.Chat]. Audio is empty when the
// server sent none.
type ChatReply struct {
	Text        string
	Audio       audio.Clip
	VoiceID     string
	Model       string
	Personality string
}

// Chat sends the message with the history and personality.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	if req.ConversationHistory == nil {
		req.ConversationHistory = []types.Message{}
	}
	var out ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, PathChat, req, &out); err != nil {
		return ChatReply{}, err
	}
	reply := ChatReply{
		Text:        out.AIResponse,
		VoiceID:     out.VoiceID,
		Model:       out.ModelUsed,
		Personality: out.Personality,
	}
	if len(out.Audio) > 0 {
		reply.Audio = audio.Clip{
			Data:     out.Audio,
			MIMEType: types.SynthesizedAudio{Format: out.Format}.MIMEType(),
		}
	}
	return reply, nil
}

// GenerateVoice synthesizes text. The server may answer with JSON carrying
// base64 audio or with the raw audio body.
func (c *Client) GenerateVoice(ctx context.Context, text, voiceID string) (audio.Clip, error) {
	payload, err := json.Marshal(GenerateVoiceRequest{Text: text, VoiceID: voiceID, ModelID: c.modelID})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("collab: generate voice: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+PathGenerateVoice, bytes.NewReader(payload))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("collab: generate voice: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return audio.Clip{}, fmt.Errorf("collab: generate voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return audio.Clip{}, decodeError(resp)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return audio.Clip{}, fmt.Errorf("collab: generate voice: read body: %w", err)
	}

	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(mt, "audio/") {
		if len(data) == 0 {
			return audio.Clip{}, errors.New("collab: generate voice: empty audio body")
		}
		return audio.Clip{Data: data, MIMEType: mt}, nil
	}
	var out GenerateVoiceResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return audio.Clip{}, fmt.Errorf("collab: generate voice: decode: %w", err)
	}
	if len(out.Audio) == 0 {
		return audio.Clip{}, errors.New("collab: generate voice: response carried no audio")
	}
	return audio.Clip{Data: out.Audio, MIMEType: types.SynthesizedAudio{Format: out.Format}.MIMEType()}, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("collab: %s %s: encode: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("collab: %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("collab: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBody)).Decode(out); err != nil {
		return fmt.Errorf("collab: %s %s: decode: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	ae := &APIError{Status: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var eb ErrorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		ae.Message, ae.Details, ae.RetryAfter = eb.Error, eb.Details, eb.RetryAfter
	} else {
		ae.Message = strings.TrimSpace(string(data))
	}
	return ae
}
