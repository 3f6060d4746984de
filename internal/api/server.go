// Package api is the collaborator API server: the backend that the voice
// persona front ends talk to. It fronts three providers (speech-to-text, the
// chat model and speech synthesis) behind the /api routes in
// [github.com/voxpersona/voxpersona/internal/collab].
//
// Chat requests share one global sliding-window rate limit. A missing
// provider answers 500 on the routes that need it, so the server can run
// with only part of its stack configured.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/voxpersona/voxpersona/internal/collab"
	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/health"
	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/internal/persona"
	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
	"github.com/voxpersona/voxpersona/pkg/provider/tts"
	"github.com/voxpersona/voxpersona/pkg/types"
)

const (
	rateWindow = time.Minute

	// maxRequestBody caps JSON bodies; maxUploadBody caps recordings.
	maxRequestBody = 1 << 20
	maxUploadBody  = 25 << 20
)

// Error messages. Clients show them verbatim.
const (
	msgLLMMissing     = "Mistral API key not configured"
	msgTTSMissing     = "ElevenLabs API key not configured"
	msgSTTMissing     = "Transcription provider not configured"
	msgMessageMissing = "Message is required"
	msgVoiceMissing   = "Voice ID is required"
	msgTextMissing    = "Text is required"
	msgAudioMissing   = "Audio file is required"
	msgBadBody        = "Invalid request body"
)

// Server serves the collaborator API. Create it with [New] and mount
// [Server.Handler].
type Server struct {
	llm llm.Provider
	stt stt.Provider
	tts tts.Provider

	api  config.APIConfig
	chat config.ChatConfig

	limiter  *window
	metrics  *observe.Metrics
	checkers []health.Checker
	now      func() time.Time
}

// Option is a functional option for [New].
type Option func(*Server)

// WithLLM sets the chat model.
func WithLLM(p llm.Provider) Option { return func(s *Server) { s.llm = p } }

// WithSTT sets the transcription provider.
func WithSTT(p stt.Provider) Option { return func(s *Server) { s.stt = p } }

// WithTTS sets the synthesis provider. It also lists the voices.
func WithTTS(p tts.Provider) Option { return func(s *Server) { s.tts = p } }

// WithMetrics records into m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithReadiness adds checks to GET /readyz.
func WithReadiness(checkers ...health.Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, checkers...) }
}

// WithClock replaces time.Now for the rate limiter.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New creates a Server from the api and chat sections of cfg. Zero values
// take the [config.ApplyDefaults] defaults; cfg itself is not modified.
func New(cfg *config.Config, opts ...Option) *Server {
	var c config.Config
	if cfg != nil {
		c = *cfg
	}
	config.ApplyDefaults(&c)
	s := &Server{api: c.API, chat: c.Chat}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.limiter = newWindow(s.api.RateLimitPerMinute, rateWindow, s.now)
	return s
}

// Handler returns the full HTTP surface: the /api routes, the probes,
// /metrics and, when a static dir is configured, the UI. Every request goes
// through the CORS and observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	health.New(s.checkers...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	if s.api.StaticDir != "" {
		mux.Handle("GET /", Static(s.api.StaticDir))
	}
	return observe.Middleware(s.metrics)(cors(s.api.CORSOrigins, mux))
}

// Register adds the /api routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+collab.PathHealth, s.handleHealth)
	mux.HandleFunc("GET "+collab.PathVoices, s.handleVoices)
	mux.HandleFunc("GET "+collab.PathPersonalities, s.handlePersonalities)
	mux.HandleFunc("POST "+collab.PathTranscribe, s.handleTranscribe)
	mux.HandleFunc("POST "+collab.PathChat, s.handleChat)
	mux.HandleFunc("POST "+collab.PathGenerateVoice, s.handleGenerateVoice)
	mux.HandleFunc("POST "+collab.PathGenerateVoiceStream, s.handleGenerateVoice)
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	res := collab.HealthResponse{
		Status:        "healthy",
		Message:       "Voice persona API is running",
		TTSConfigured: s.tts != nil,
		LLMConfigured: s.llm != nil,
		STTConfigured: s.stt != nil,
	}
	if s.llm != nil {
		res.Model = s.llm.Model()
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleVoices(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: msgTTSMissing})
		return
	}
	voices, err := s.tts.ListVoices(r.Context())
	if err != nil {
		observe.Logger(r.Context()).Warn("api: list voices failed", "err", err)
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: err.Error()})
		return
	}
	// Filter always returns a non-nil slice, so an empty list encodes as [].
	voices = lo.Filter(voices, func(v types.VoiceProfile, _ int) bool { return v.ID != "" })
	writeJSON(w, http.StatusOK, collab.VoicesResponse{Voices: voices})
}

func (s *Server) handlePersonalities(w http.ResponseWriter, _ *http.Request) {
	presets := lo.Map(persona.Presets(), func(p persona.Preset, _ int) collab.Personality {
		return collab.Personality{Name: p.Name, Prompt: p.Prompt}
	})
	writeJSON(w, http.StatusOK, collab.PersonalitiesResponse{
		Personalities: presets,
		Default:       s.defaultPersonality(),
	})
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if s.stt == nil {
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: msgSTTMissing})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, hdr, err := r.FormFile(collab.TranscribeField)
	if err != nil {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgAudioMissing, Details: err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgAudioMissing, Details: err.Error()})
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgAudioMissing})
		return
	}
	clip := audio.Clip{Data: data, MIMEType: uploadType(hdr.Header.Get("Content-Type"), hdr.Filename)}

	ctx, done := s.metrics.Stage(r.Context(), observe.StageTranscribe)
	tr, err := s.stt.Transcribe(ctx, clip)
	done(err)
	if err != nil {
		observe.Logger(r.Context()).Warn("api: transcription failed", "err", err, "bytes", len(data))
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: "Failed to transcribe audio", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, collab.TranscribeResponse{Transcript: strings.TrimSpace(tr.Text)})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if s.llm == nil {
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: msgLLMMissing})
		return
	}
	if s.tts == nil {
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: msgTTSMissing})
		return
	}

	var req collab.ChatRequest
	if !decode(w, r, &req) {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgMessageMissing})
		return
	}
	if req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgVoiceMissing})
		return
	}

	if !s.limiter.Allow() {
		s.metrics.RecordRateLimited(ctx, "chat")
		log.Info("api: chat rate limited", "limit", s.api.RateLimitPerMinute)
		writeError(w, http.StatusTooManyRequests, collab.ErrorBody{
			Error:      "Rate limit exceeded. Please wait a moment before sending another message.",
			Details:    fmt.Sprintf("Maximum %d requests per minute allowed.", s.api.RateLimitPerMinute),
			RetryAfter: "Please wait about 1 minute before trying again.",
		})
		return
	}

	personality := strings.TrimSpace(req.Personality)
	if personality == "" {
		personality = s.defaultPersonality()
	}
	history := lo.Map(req.ConversationHistory, func(m types.Message, _ int) types.Message {
		role := types.RoleUser
		if m.Role == types.RoleAssistant {
			role = types.RoleAssistant
		}
		return types.Message{Role: role, Content: m.Content}
	})

	cctx, done := s.metrics.Stage(ctx, observe.StageChat)
	resp, err := s.llm.Complete(cctx, llm.CompletionRequest{
		SystemPrompt: personality,
		Messages:     append(history, types.Message{Role: types.RoleUser, Content: message}),
		Temperature:  s.chat.Temperature,
		MaxTokens:    s.chat.MaxTokens,
	})
	done(err)
	if err != nil {
		log.Warn("api: chat failed", "err", err)
		status, body := chatFailure(err)
		writeError(w, status, body)
		return
	}
	reply := strings.TrimSpace(resp.Content)
	if reply == "" {
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: "Failed to get AI response", Details: "empty completion"})
		return
	}

	synth, err := s.synthesize(ctx, tts.Request{Text: reply, VoiceID: req.VoiceID, ModelID: s.api.ModelID})
	if err != nil {
		log.Warn("api: chat synthesis failed", "err", err)
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: "Failed to generate voice", Details: err.Error()})
		return
	}

	model := resp.Model
	if model == "" {
		model = s.llm.Model()
	}
	log.Info("api: chat answered", "model", model, "history", len(history), "reply_words", len(strings.Fields(reply)))
	writeJSON(w, http.StatusOK, collab.ChatResponse{
		AIResponse:  reply,
		Audio:       synth.Data,
		Format:      synth.Format,
		VoiceID:     req.VoiceID,
		ModelUsed:   model,
		Personality: personality,
	})
}

func (s *Server) handleGenerateVoice(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: msgTTSMissing})
		return
	}
	var req collab.GenerateVoiceRequest
	if !decode(w, r, &req) {
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgTextMissing})
		return
	}
	if req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgVoiceMissing})
		return
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = s.api.ModelID
	}

	synth, err := s.synthesize(r.Context(), tts.Request{Text: text, VoiceID: req.VoiceID, ModelID: modelID})
	if err != nil {
		observe.Logger(r.Context()).Warn("api: synthesis failed", "err", err)
		writeError(w, http.StatusInternalServerError, collab.ErrorBody{Error: "Failed to generate voice", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, collab.GenerateVoiceResponse{
		Audio:   synth.Data,
		Format:  synth.Format,
		Text:    text,
		VoiceID: req.VoiceID,
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func (s *Server) synthesize(ctx context.Context, req tts.Request) (types.SynthesizedAudio, error) {
	ctx, done := s.metrics.Stage(ctx, observe.StageSynthesis, observe.Attr("voice_id", req.VoiceID))
	out, err := s.tts.Synthesize(ctx, req)
	if err == nil && len(out.Data) == 0 {
		err = errors.New("synthesis returned no audio")
	}
	done(err)
	return out, err
}

func (s *Server) defaultPersonality() string {
	if p := strings.TrimSpace(s.chat.DefaultPersonality); p != "" {
		return p
	}
	return persona.Default
}

// chatFailure maps an upstream model error onto the status and body the
// client sees. Quota and rate-limit errors become 429.
func chatFailure(err error) (int, collab.ErrorBody) {
	err = llm.Classify(err, 0)
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return http.StatusTooManyRequests, collab.ErrorBody{
			Error:      "Mistral API rate limit exceeded. Please try again later.",
			Details:    "You have hit the rate limit. Please wait before trying again.",
			RetryAfter: "Please wait a few minutes before trying again.",
		}
	case errors.Is(err, llm.ErrModelNotFound):
		return http.StatusInternalServerError, collab.ErrorBody{
			Error:   "Mistral model not available. Please check your API configuration.",
			Details: err.Error(),
		}
	default:
		return http.StatusInternalServerError, collab.ErrorBody{
			Error:   "Failed to get AI response",
			Details: err.Error(),
		}
	}
}

// uploadType picks the clip MIME type from the part header, falling back to
// the filename extension.
func uploadType(declared, filename string) string {
	if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if mt := mime.TypeByExtension(path.Ext(filename)); mt != "" {
		if base, _, err := mime.ParseMediaType(mt); err == nil {
			return base
		}
	}
	return audio.MIMETypeWAV
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, collab.ErrorBody{Error: msgBadBody, Details: err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("api: write response", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, body collab.ErrorBody) {
	writeJSON(w, status, body)
}
