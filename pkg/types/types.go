// Package types defines the value types shared across voxpersona packages.
//
// Providers, the collaborator client, the API server and the conversation
// model all exchange these. Each package keeps its own domain types; only the
// cross-cutting ones live here to avoid import cycles.
package types

// Conversation roles used in [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry of the chat history sent to a language model.
type Message struct {
	// Role is one of [RoleSystem], [RoleUser] or [RoleAssistant].
	Role string `json:"role"`

	// Content is the plain-text body of the message.
	Content string `json:"content"`
}

// VoiceProfile describes a synthesis voice offered by the speech backend.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier passed back on synthesis.
	ID string `json:"id"`

	// Name is the human-readable voice name.
	Name string `json:"name"`

	// Category is the provider's grouping (e.g. "premade", "cloned").
	Category string `json:"category,omitempty"`

	// Description is free text supplied by the provider.
	Description string `json:"description,omitempty"`

	// Accent, Age and Gender come from the provider's voice labels.
	Accent string `json:"accent,omitempty"`
	Age    string `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// SynthesizedAudio is an encoded speech clip returned by a synthesis backend.
type SynthesizedAudio struct {
	// Data holds the encoded bytes (MP3 for ElevenLabs).
	Data []byte

	// Format is the short container name, e.g. "mp3" or "wav".
	Format string
}

// MIMEType returns the media type matching Format. Unknown formats map to
// application/octet-stream.
func (a SynthesizedAudio) MIMEType() string {
	switch a.Format {
	case "mp3", "mpeg":
		return "audio/mpeg"
	case "wav":
		return "audio/wav"
	case "webm":
		return "audio/webm"
	case "ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
