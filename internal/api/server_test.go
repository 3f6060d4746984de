package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/internal/api"
	"github.com/voxpersona/voxpersona/internal/collab"
	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/persona"
	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	llmmock "github.com/voxpersona/voxpersona/pkg/provider/llm/mock"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
	sttmock "github.com/voxpersona/voxpersona/pkg/provider/stt/mock"
	ttsmock "github.com/voxpersona/voxpersona/pkg/provider/tts/mock"
	"github.com/voxpersona/voxpersona/pkg/types"
)

type stack struct {
	llm *llmmock.Provider
	stt *sttmock.Provider
	tts *ttsmock.Provider
}

func newStack() stack {
	return stack{
		llm: &llmmock.Provider{
			ModelName:        "mistral-large-latest",
			CompleteResponse: &llm.CompletionResponse{Content: "Hello there, friend!"},
		},
		stt: &sttmock.Provider{Result: stt.Transcript{Text: " hello world "}},
		tts: &ttsmock.Provider{
			Audio:            types.SynthesizedAudio{Data: []byte("ID3mp3"), Format: "mp3"},
			ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Rachel"}, {ID: "v2", Name: "Adam"}},
		},
	}
}

func (st stack) options() []api.Option {
	return []api.Option{api.WithLLM(st.llm), api.WithSTT(st.stt), api.WithTTS(st.tts)}
}

// serve starts the server and returns its URL and a client for it.
func serve(t *testing.T, cfg *config.Config, opts ...api.Option) (string, *collab.Client) {
	t.Helper()
	srv := httptest.NewServer(api.New(cfg, opts...).Handler())
	t.Cleanup(srv.Close)
	c, err := collab.New(srv.URL)
	if err != nil {
		t.Fatalf("collab.New: %v", err)
	}
	return srv.URL, c
}

func post(t *testing.T, url, body string) (*http.Response, collab.ErrorBody) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	var eb collab.ErrorBody
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	return resp, eb
}

func asAPIError(t *testing.T, err error) *collab.APIError {
	t.Helper()
	var ae *collab.APIError
	if !errors.As(err, &ae) {
		t.Fatalf("error %v is not an APIError", err)
	}
	return ae
}

// ─── Health, voices, personalities ───────────────────────────────────────────

func TestHealth(t *testing.T) {
	t.Parallel()
	st := newStack()
	_, c := serve(t, nil, api.WithLLM(st.llm), api.WithTTS(st.tts))

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if h.Status != "healthy" || !h.LLMConfigured || !h.TTSConfigured || h.STTConfigured {
		t.Errorf("health = %+v", h)
	}
	if h.Model != "mistral-large-latest" {
		t.Errorf("model = %q", h.Model)
	}
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()
	url, _ := serve(t, nil)
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(url + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func TestVoices(t *testing.T) {
	t.Parallel()
	st := newStack()
	_, c := serve(t, nil, st.options()...)

	voices, err := c.Voices(context.Background())
	if err != nil {
		t.Fatalf("Voices: %v", err)
	}
	if len(voices) != 2 || voices[0].ID != "v1" || voices[1].Name != "Adam" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestVoices_ProviderMissingOrFailing(t *testing.T) {
	t.Parallel()
	_, c := serve(t, nil)
	_, err := c.Voices(context.Background())
	if ae := asAPIError(t, err); ae.Status != 500 || ae.Message != "ElevenLabs API key not configured" {
		t.Errorf("missing provider = %+v", ae)
	}

	st := newStack()
	st.tts.ListVoicesErr = errors.New("unauthorized")
	_, c = serve(t, nil, st.options()...)
	_, err = c.Voices(context.Background())
	if ae := asAPIError(t, err); ae.Status != 500 || ae.Message != "unauthorized" {
		t.Errorf("failing provider = %+v", ae)
	}
}

func TestPersonalities(t *testing.T) {
	t.Parallel()
	_, c := serve(t, &config.Config{Chat: config.ChatConfig{DefaultPersonality: "Be brief."}})
	res, err := c.Personalities(context.Background())
	if err != nil {
		t.Fatalf("Personalities: %v", err)
	}
	if len(res.Personalities) != len(persona.Presets()) || res.Personalities[0].Name != persona.Friendly {
		t.Errorf("personalities = %+v", res.Personalities)
	}
	if res.Default != "Be brief." {
		t.Errorf("default = %q", res.Default)
	}
}

// ─── Transcribe ──────────────────────────────────────────────────────────────

func TestTranscribe(t *testing.T) {
	t.Parallel()
	st := newStack()
	_, c := serve(t, nil, st.options()...)

	clip := audio.WAVClip(make([]byte, 3200), audio.Format{SampleRate: 16000, Channels: 1})
	got, err := c.Transcribe(context.Background(), clip)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "hello world" {
		t.Errorf("transcript = %q", got)
	}
	calls := st.stt.Calls()
	if len(calls) != 1 {
		t.Fatalf("stt calls = %d", len(calls))
	}
	if calls[0].Clip.MIMEType != audio.MIMETypeWAV || len(calls[0].Clip.Data) != len(clip.Data) {
		t.Errorf("clip = %s, %d bytes", calls[0].Clip.MIMEType, len(calls[0].Clip.Data))
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()
	st := newStack()
	st.stt.Err = errors.New("decoder exploded")
	url, c := serve(t, nil, st.options()...)

	_, err := c.Transcribe(context.Background(), audio.Clip{Data: []byte("RIFF"), MIMEType: "audio/wav"})
	if ae := asAPIError(t, err); ae.Status != 500 || ae.Details != "decoder exploded" {
		t.Errorf("provider failure = %+v", ae)
	}

	resp, eb := post(t, url+collab.PathTranscribe, "{}")
	if resp.StatusCode != 400 || eb.Error != "Audio file is required" {
		t.Errorf("no file = %d %+v", resp.StatusCode, eb)
	}
}

// ─── Chat ────────────────────────────────────────────────────────────────────

func TestChat(t *testing.T) {
	t.Parallel()
	st := newStack()
	_, c := serve(t, nil, st.options()...)

	reply, err := c.Chat(context.Background(), collab.ChatRequest{
		Message: "  How are you?  ",
		VoiceID: "v2",
		ConversationHistory: []types.Message{
			{Role: types.RoleUser, Content: "Hi"},
			{Role: types.RoleAssistant, Content: "Hello!"},
			{Role: types.RoleSystem, Content: "sneaky"},
		},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Text != "Hello there, friend!" || reply.VoiceID != "v2" || reply.Model != "mistral-large-latest" {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Personality != persona.Default {
		t.Errorf("personality = %q", reply.Personality)
	}
	if reply.Audio.MIMEType != "audio/mpeg" || string(reply.Audio.Data) != "ID3mp3" {
		t.Errorf("audio = %s %q", reply.Audio.MIMEType, reply.Audio.Data)
	}

	calls := st.llm.Calls()
	if len(calls) != 1 {
		t.Fatalf("llm calls = %d", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != persona.Default || req.MaxTokens != 500 || req.Temperature != 0.7 {
		t.Errorf("request = %+v", req)
	}
	wantRoles := []string{types.RoleUser, types.RoleAssistant, types.RoleUser, types.RoleUser}
	if len(req.Messages) != len(wantRoles) {
		t.Fatalf("messages = %+v", req.Messages)
	}
	for i, want := range wantRoles {
		if req.Messages[i].Role != want {
			t.Errorf("messages[%d].Role = %q, want %q", i, req.Messages[i].Role, want)
		}
	}
	if last := req.Messages[3].Content; last != "How are you?" {
		t.Errorf("last message = %q", last)
	}

	synth := st.tts.Calls()
	if len(synth) != 1 || synth[0].Req.VoiceID != "v2" || synth[0].Req.ModelID != "eleven_monolingual_v1" {
		t.Errorf("synthesis calls = %+v", synth)
	}
}

func TestChat_Personality(t *testing.T) {
	t.Parallel()
	st := newStack()
	_, c := serve(t, nil, st.options()...)
	prompt, _ := persona.Lookup(persona.Casual)

	reply, err := c.Chat(context.Background(), collab.ChatRequest{Message: "yo", VoiceID: "v1", Personality: prompt})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if reply.Personality != prompt || st.llm.Calls()[0].Req.SystemPrompt != prompt {
		t.Errorf("personality not forwarded: %q", reply.Personality)
	}
}

func TestChat_Validation(t *testing.T) {
	t.Parallel()
	st := newStack()
	url, _ := serve(t, nil, st.options()...)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing message", `{"voice_id":"v1"}`, "Message is required"},
		{"blank message", `{"message":"   ","voice_id":"v1"}`, "Message is required"},
		{"missing voice", `{"message":"hi"}`, "Voice ID is required"},
		{"bad json", `{"message":`, "Invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, eb := post(t, url+collab.PathChat, tt.body)
			if resp.StatusCode != http.StatusBadRequest || eb.Error != tt.want {
				t.Errorf("got %d %+v, want 400 %q", resp.StatusCode, eb, tt.want)
			}
		})
	}
	if n := len(st.llm.Calls()); n != 0 {
		t.Errorf("llm called %d times for invalid requests", n)
	}
}

func TestChat_MissingProviders(t *testing.T) {
	t.Parallel()
	st := newStack()
	tests := []struct {
		name string
		opts []api.Option
		want string
	}{
		{"no llm", []api.Option{api.WithTTS(st.tts)}, "Mistral API key not configured"},
		{"no tts", []api.Option{api.WithLLM(st.llm)}, "ElevenLabs API key not configured"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url, _ := serve(t, nil, tt.opts...)
			resp, eb := post(t, url+collab.PathChat, `{"message":"hi","voice_id":"v1"}`)
			if resp.StatusCode != 500 || eb.Error != tt.want {
				t.Errorf("got %d %+v", resp.StatusCode, eb)
			}
		})
	}
}

func TestChat_RateLimit(t *testing.T) {
	t.Parallel()
	st := newStack()
	var (
		mu  sync.Mutex
		now = time.Unix(1_700_000_000, 0)
	)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	cfg := &config.Config{API: config.APIConfig{RateLimitPerMinute: 2}}
	_, c := serve(t, cfg, append(st.options(), api.WithClock(clock))...)
	req := collab.ChatRequest{Message: "hi", VoiceID: "v1"}

	for i := range 2 {
		if _, err := c.Chat(context.Background(), req); err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
	}
	_, err := c.Chat(context.Background(), req)
	if !collab.IsRateLimited(err) {
		t.Fatalf("third chat err = %v, want rate limited", err)
	}
	ae := asAPIError(t, err)
	if ae.Message != "Rate limit exceeded. Please wait a moment before sending another message." ||
		ae.Details != "Maximum 2 requests per minute allowed." ||
		ae.RetryAfter != "Please wait about 1 minute before trying again." {
		t.Errorf("body = %+v", ae)
	}
	if n := len(st.llm.Calls()); n != 2 {
		t.Errorf("llm calls = %d, want 2", n)
	}

	mu.Lock()
	now = now.Add(time.Minute + time.Second)
	mu.Unlock()
	if _, err := c.Chat(context.Background(), req); err != nil {
		t.Fatalf("chat after the window slid: %v", err)
	}
}

func TestChat_UpstreamErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"http 429", errors.New("mistral: status 429"), 429, "Mistral API rate limit exceeded. Please try again later."},
		{"quota", errors.New("Quota exceeded for this key"), 429, "Mistral API rate limit exceeded. Please try again later."},
		{"rate limit", errors.New("upstream rate limit hit"), 429, "Mistral API rate limit exceeded. Please try again later."},
		{"model", errors.New("Model mistral-huge not found"), 500, "Mistral model not available. Please check your API configuration."},
		{"generate is not rate", errors.New("failed to generate completion"), 500, "Failed to get AI response"},
		{"other", errors.New("connection reset"), 500, "Failed to get AI response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := newStack()
			st.llm.CompleteErr = tt.err
			_, c := serve(t, nil, st.options()...)

			_, err := c.Chat(context.Background(), collab.ChatRequest{Message: "hi", VoiceID: "v1"})
			ae := asAPIError(t, err)
			if ae.Status != tt.wantStatus || ae.Message != tt.wantError {
				t.Errorf("got %d %q, want %d %q", ae.Status, ae.Message, tt.wantStatus, tt.wantError)
			}
			if tt.wantStatus == 429 && ae.RetryAfter == "" {
				t.Error("rate-limit answer carries no retry_after")
			}
		})
	}
}

func TestChat_SynthesisFailure(t *testing.T) {
	t.Parallel()
	st := newStack()
	st.tts.SynthesizeErr = errors.New("voice not found")
	_, c := serve(t, nil, st.options()...)

	_, err := c.Chat(context.Background(), collab.ChatRequest{Message: "hi", VoiceID: "v1"})
	if ae := asAPIError(t, err); ae.Status != 500 || ae.Message != "Failed to generate voice" {
		t.Errorf("got %+v", ae)
	}
}

// ─── Generate voice ──────────────────────────────────────────────────────────

func TestGenerateVoice(t *testing.T) {
	t.Parallel()
	st := newStack()
	_, c := serve(t, nil, st.options()...)

	clip, err := c.GenerateVoice(context.Background(), "Say this.", "v1")
	if err != nil {
		t.Fatalf("GenerateVoice: %v", err)
	}
	if clip.MIMEType != "audio/mpeg" || string(clip.Data) != "ID3mp3" {
		t.Errorf("clip = %s %q", clip.MIMEType, clip.Data)
	}
	calls := st.tts.Calls()
	if len(calls) != 1 || calls[0].Req.Text != "Say this." || calls[0].Req.ModelID != "eleven_monolingual_v1" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestGenerateVoiceStream(t *testing.T) {
	t.Parallel()
	st := newStack()
	url, _ := serve(t, nil, st.options()...)

	resp, err := http.Post(url+collab.PathGenerateVoiceStream, "application/json",
		strings.NewReader(`{"text":"Hi","voice_id":"v9","model_id":"eleven_turbo_v2"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	var out collab.GenerateVoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Format != "mp3" || out.Text != "Hi" || out.VoiceID != "v9" || string(out.Audio) != "ID3mp3" {
		t.Errorf("response = %+v", out)
	}
	if got := st.tts.Calls()[0].Req.ModelID; got != "eleven_turbo_v2" {
		t.Errorf("model id = %q", got)
	}
}

func TestGenerateVoice_Validation(t *testing.T) {
	t.Parallel()
	url, _ := serve(t, nil, newStack().options()...)
	tests := []struct{ body, want string }{
		{`{"voice_id":"v1"}`, "Text is required"},
		{`{"text":"hi"}`, "Voice ID is required"},
	}
	for _, tt := range tests {
		resp, eb := post(t, url+collab.PathGenerateVoice, tt.body)
		if resp.StatusCode != 400 || eb.Error != tt.want {
			t.Errorf("%s: got %d %+v", tt.body, resp.StatusCode, eb)
		}
	}
}

// ─── CORS and static UI ──────────────────────────────────────────────────────

func TestCORS(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{API: config.APIConfig{CORSOrigins: []string{"http://localhost:5173"}}}
	url, _ := serve(t, cfg)

	req, _ := http.NewRequest(http.MethodOptions, url+collab.PathChat, nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Errorf("allow origin = %q", got)
	}
	if !strings.Contains(resp.Header.Get("Access-Control-Allow-Methods"), "POST") {
		t.Errorf("allow methods = %q", resp.Header.Get("Access-Control-Allow-Methods"))
	}

	req, _ = http.NewRequest(http.MethodGet, url+collab.PathHealth, nil)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("foreign origin allowed: %q", got)
	}
}

func TestStaticUI(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>app</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}
	url, _ := serve(t, &config.Config{API: config.APIConfig{StaticDir: dir}})

	get := func(path string) (int, string) {
		resp, err := http.Get(url + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(body)
	}

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/", 200, "<html>app</html>"},
		{"/app.js", 200, "console.log(1)"},
		{"/chat/settings", 200, "<html>app</html>"},
		{"/../../etc/passwd", 200, "<html>app</html>"},
		{"/api/unknown", 404, ""},
	}
	for _, tt := range tests {
		status, body := get(tt.path)
		if status != tt.wantStatus || (tt.wantBody != "" && body != tt.wantBody) {
			t.Errorf("GET %s = %d %q", tt.path, status, body)
		}
	}
}
