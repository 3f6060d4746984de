package app

import (
	"errors"

	"github.com/voxpersona/voxpersona/internal/avatar"
	"github.com/voxpersona/voxpersona/internal/capture"
	"github.com/voxpersona/voxpersona/internal/collab"
	"github.com/voxpersona/voxpersona/internal/playback"
)

// Pipeline failures. Each wraps the collaborator's error; a rejected and a
// timed-out request look the same.
var (
	ErrTranscriptionFailed = errors.New("app: transcription failed")
	ErrChatFailed          = errors.New("app: chat failed")
	ErrSynthesisFailed     = errors.New("app: synthesis failed")
)

// Session operation errors.
var (
	ErrEmptyMessage = errors.New("app: message is empty")
	ErrTurnNotFound = errors.New("app: turn not found")
	ErrNoAudio      = errors.New("app: turn has no audio")
	ErrClosed       = errors.New("app: session closed")
	ErrUnknownVoice = errors.New("app: unknown voice")
)

var errorKinds = []struct {
	err  error
	kind string
}{
	{capture.ErrPermissionDenied, "permission_denied"},
	{capture.ErrDeviceUnavailable, "device_unavailable"},
	{capture.ErrAudioProcessing, "audio_processing"},
	{ErrTranscriptionFailed, "transcription_failed"},
	{ErrChatFailed, "chat_failed"},
	{ErrSynthesisFailed, "synthesis_failed"},
	{playback.ErrPlayback, "playback_failed"},
	{avatar.ErrAssetLoad, "asset_load"},
	{ErrEmptyMessage, "empty_message"},
	{ErrTurnNotFound, "turn_not_found"},
	{ErrNoAudio, "no_audio"},
	{ErrUnknownVoice, "unknown_voice"},
}

// ErrorKind maps err to a stable identifier for front ends. Unknown errors
// are "internal"; nil is "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

// retryAfter returns the backend's retry hint for a rate-limited request.
func retryAfter(err error) string {
	var ae *collab.APIError
	if errors.As(err, &ae) && collab.IsRateLimited(err) {
		return ae.RetryAfter
	}
	return ""
}
