package collab

import "github.com/voxpersona/voxpersona/pkg/types"

// Route paths. Both the client and the API server use these.
const (
	PathHealth              = "/api/health"
	PathVoices              = "/api/voices"
	PathTranscribe          = "/api/transcribe"
	PathChat                = "/api/chat"
	PathGenerateVoice       = "/api/generate-voice"
	PathGenerateVoiceStream = "/api/generate-voice-stream"
	PathPersonalities       = "/api/personalities"
)

// TranscribeField is the multipart field carrying the recording.
const TranscribeField = "audio"

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	TTSConfigured bool   `json:"elevenlabs_configured"`
	LLMConfigured bool   `json:"mistral_configured"`
	STTConfigured bool   `json:"stt_configured"`
	Model         string `json:"model,omitempty"`
}

// VoicesResponse is the body of GET /api/voices.
type VoicesResponse struct {
	Voices []types.VoiceProfile `json:"voices"`
}

// TranscribeResponse is the body of POST /api/transcribe.
type TranscribeResponse struct {
	Transcript string `json:"transcript"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message             string          `json:"message"`
	VoiceID             string          `json:"voice_id"`
	ConversationHistory []types.Message `json:"conversation_history"`
	Personality         string          `json:"personality,omitempty"`
}

// ChatResponse is the body of a successful POST /api/chat. Audio is
// base64 in JSON and may be empty when the server does not synthesize
// inline.
type ChatResponse struct {
	AIResponse  string `json:"ai_response"`
	Audio       []byte `json:"audio,omitempty"`
	Format      string `json:"format,omitempty"`
	VoiceID     string `json:"voice_id"`
	ModelUsed   string `json:"model_used"`
	Personality string `json:"personality"`
}

// GenerateVoiceRequest is the body of POST /api/generate-voice and
// /api/generate-voice-stream.
type GenerateVoiceRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id,omitempty"`
}

// GenerateVoiceResponse is the JSON body of a successful generate-voice.
type GenerateVoiceResponse struct {
	Audio   []byte `json:"audio"`
	Format  string `json:"format"`
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
}

// PersonalitiesResponse is the body of GET /api/personalities.
type PersonalitiesResponse struct {
	Personalities []Personality `json:"personalities"`
	Default       string        `json:"default"`
}

// Personality is one preset entry.
type Personality struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}
