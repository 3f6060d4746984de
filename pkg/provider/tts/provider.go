// Package tts defines the Provider interface for text-to-speech backends.
//
// A reply is synthesized in one call: the whole text goes in and one encoded
// clip comes out. The clip is handed to the playback layer unchanged, so the
// format must be something the player can decode (MP3 or WAV).
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/voxpersona/voxpersona/pkg/types"
)

// Request describes one synthesis call.
type Request struct {
	// Text is the reply to speak. Must be non-empty.
	Text string

	// VoiceID selects the provider voice. Must be non-empty.
	VoiceID string

	// ModelID optionally overrides the provider's default synthesis model.
	ModelID string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text into one encoded clip.
	Synthesize(ctx context.Context, req Request) (types.SynthesizedAudio, error)

	// ListVoices returns the voices currently offered by the backend.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)
}
