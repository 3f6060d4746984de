package wsbridge

import (
	"encoding/json"
	"time"
)

// Message types sent from the server to the browser.
const (
	TypeMicOpen         = "mic.open"
	TypeMicClose        = "mic.close"
	TypePlaybackLoad    = "playback.load"
	TypePlaybackPlay    = "playback.play"
	TypePlaybackPause   = "playback.pause"
	TypePlaybackRelease = "playback.release"
)

// Message types sent from the browser to the server.
const (
	TypeMicOpened      = "mic.opened"
	TypeMicDenied      = "mic.denied"
	TypeMicUnavailable = "mic.unavailable"
	TypePlaybackLoaded = "playback.loaded"
	TypePlaybackFailed = "playback.failed"
	TypePlaybackEvent  = "playback.event"
	TypeCommand        = "ui.command"
)

// Message is the JSON envelope of every text frame on the bridge. ID pairs a
// request with its reply for mic.open and playback.load, and names the
// playback handle on playback.* messages.
//
// Binary frames carry raw 16-bit little-endian PCM for the open microphone in
// the format announced by mic.opened.
type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MicOpened is the payload of mic.opened.
type MicOpened struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Failure is the payload of mic.denied, mic.unavailable and playback.failed.
type Failure struct {
	Message string `json:"message,omitempty"`
}

// PlaybackLoad is the payload of playback.load. Audio is base64 in JSON.
type PlaybackLoad struct {
	Audio    []byte `json:"audio"`
	MIMEType string `json:"mime_type"`
}

// PlaybackLoaded is the payload of playback.loaded.
type PlaybackLoaded struct {
	DurationMS int64 `json:"duration_ms"`
}

// PlaybackEvent is the payload of playback.event. Kind is one of playing,
// paused, progress, ended or error.
type PlaybackEvent struct {
	Kind       string `json:"kind"`
	PositionMS int64  `json:"position_ms"`
	DurationMS int64  `json:"duration_ms"`
	Message    string `json:"message,omitempty"`
}

// Command is the payload of ui.command: a user action taken in the browser.
type Command struct {
	// Action names the operation: start, stop, send, replay, clear, pause,
	// resume, voice or personality.
	Action string `json:"action"`

	Text   string `json:"text,omitempty"`
	TurnID string `json:"turn_id,omitempty"`
	Value  string `json:"value,omitempty"`
}

func ms(n int64) time.Duration { return time.Duration(n) * time.Millisecond }

func encode(typ, id string, data any) ([]byte, error) {
	msg := Message{Type: typ, ID: id}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
