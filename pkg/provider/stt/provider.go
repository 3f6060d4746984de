// Package stt defines the Provider interface for speech-to-text backends.
//
// The turn pipeline records a whole utterance, encodes it as one clip and asks
// the provider for its transcript. Providers are opaque collaborators: a
// rejected request and a timed-out request are both just errors.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

// Transcript is the result of transcribing one clip.
type Transcript struct {
	// Text is the recognised speech, trimmed of surrounding whitespace.
	Text string

	// Language is the detected or requested BCP-47 language, when reported.
	Language string
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// Transcribe uploads clip and waits for its transcript. The clip's MIME
	// type is forwarded so the backend can pick a decoder.
	Transcribe(ctx context.Context, clip audio.Clip) (Transcript, error)
}
