package app

import (
	"time"

	"github.com/samber/lo"

	"github.com/voxpersona/voxpersona/internal/conversation"
	"github.com/voxpersona/voxpersona/pkg/types"
)

// Payloads published on the session bus, keyed by event type.

// StatePayload accompanies event.TypeState.
type StatePayload struct {
	State  string `json:"state"`
	From   string `json:"from"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ElapsedPayload accompanies event.TypeElapsed.
type ElapsedPayload struct {
	Seconds int    `json:"seconds"`
	Text    string `json:"text"`
}

// TurnView is a conversation turn without its audio.
type TurnView struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	HasAudio  bool      `json:"has_audio"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationPayload accompanies event.TypeConversation.
type ConversationPayload struct {
	Turns []TurnView `json:"turns"`
}

// PlaybackPayload accompanies event.TypePlayback.
type PlaybackPayload struct {
	SessionID  string `json:"session_id"`
	Kind       string `json:"kind"`
	Reason     string `json:"reason,omitempty"`
	PositionMS int64  `json:"position_ms"`
	DurationMS int64  `json:"duration_ms"`
	Replay     bool   `json:"replay"`
}

// VoicesPayload accompanies event.TypeVoices.
type VoicesPayload struct {
	Voices   []types.VoiceProfile `json:"voices"`
	Selected string               `json:"selected"`
}

// PersonaPayload accompanies event.TypePersona.
type PersonaPayload struct {
	Preset      string `json:"preset,omitempty"`
	Personality string `json:"personality"`
	Badge       string `json:"badge"`
}

// ErrorPayload accompanies event.TypeError.
type ErrorPayload struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	RetryAfter string `json:"retry_after,omitempty"`
}

func errorPayload(err error) ErrorPayload {
	return ErrorPayload{Kind: ErrorKind(err), Message: err.Error(), RetryAfter: retryAfter(err)}
}

func turnViews(turns []conversation.Turn) []TurnView {
	return lo.Map(turns, func(t conversation.Turn, _ int) TurnView {
		return TurnView{ID: t.ID, Role: t.Role, Text: t.Text, HasAudio: t.HasAudio(), CreatedAt: t.CreatedAt}
	})
}
