// Package audio defines the device contracts and PCM helpers used by the
// voxpersona turn pipeline.
//
// The two device abstractions are:
//
//   - [Microphone] opens an [InputHandle], a live capture stream of PCM frames.
//   - [Player] loads an encoded [Clip] into a [PlaybackHandle] that reports its
//     lifecycle through [PlayerEvent] values.
//
// Adapters live in sub-packages: audio/wsbridge drives a browser over a
// WebSocket, audio/portaudio drives the host's sound card. Tests use
// audio/mock.
//
// Handles are exclusive resources. Every handle returned by Open or Load must
// be closed or released exactly once by its owner; both operations are
// idempotent so that teardown paths can call them unconditionally.
package audio

import (
	"context"
	"errors"
	"time"
)

// Device acquisition failures. Adapters wrap these so callers can match them
// with [errors.Is].
var (
	// ErrPermissionDenied means the user (or the OS) declined microphone access.
	ErrPermissionDenied = errors.New("audio: permission denied")

	// ErrDeviceUnavailable means no usable device is present or reachable.
	ErrDeviceUnavailable = errors.New("audio: device unavailable")

	// ErrDecode means a clip could not be decoded by the player.
	ErrDecode = errors.New("audio: decode failed")

	// ErrReleased is returned by handle methods called after Close/Release.
	ErrReleased = errors.New("audio: handle released")
)

// Microphone grants access to a capture device.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open requests the device and starts capturing. The supplied ctx governs
	// the permission/acquisition phase only; once open the handle lives until
	// [InputHandle.Close].
	//
	// Returns an error wrapping [ErrPermissionDenied] or [ErrDeviceUnavailable]
	// when acquisition fails.
	Open(ctx context.Context) (InputHandle, error)
}

// InputHandle is an open capture stream.
type InputHandle interface {
	// Frames returns the channel delivering captured audio. It is closed when
	// the handle is closed or the device stops delivering.
	Frames() <-chan AudioFrame

	// Format reports the native format of frames on this handle.
	Format() Format

	// Err returns the error that closed Frames early, or nil if the stream
	// ended because of Close.
	Err() error

	// Close stops capture and releases the device. Safe to call more than once.
	Close() error
}

// Player turns encoded clips into playback handles.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// Load decodes clip and returns a handle that is ready but not yet playing.
	// Returns an error wrapping [ErrDecode] when the clip cannot be decoded and
	// [ErrDeviceUnavailable] when no output is reachable.
	Load(ctx context.Context, clip Clip) (PlaybackHandle, error)
}

// PlaybackHandle controls one loaded clip.
type PlaybackHandle interface {
	// Play starts or resumes output.
	Play() error

	// Pause suspends output, keeping the position.
	Pause() error

	// Events returns the lifecycle stream of this handle. After a terminal
	// event ([PlayerEnded] or [PlayerError]) no further events are sent. The
	// channel is closed on Release.
	Events() <-chan PlayerEvent

	// Duration is the decoded length of the clip, zero when unknown.
	Duration() time.Duration

	// Release stops output and frees the decoded media. Safe to call more
	// than once.
	Release() error
}

// PlayerEventKind classifies a [PlayerEvent].
type PlayerEventKind int

const (
	// PlayerPlaying is sent when output actually begins (or resumes).
	PlayerPlaying PlayerEventKind = iota

	// PlayerPaused is sent when output is suspended.
	PlayerPaused

	// PlayerProgress reports the current position while playing.
	PlayerProgress

	// PlayerEnded is sent once the clip has played to completion.
	PlayerEnded

	// PlayerError is sent when output fails mid-stream.
	PlayerError
)

// String returns the lower-case name of the kind.
func (k PlayerEventKind) String() string {
	switch k {
	case PlayerPlaying:
		return "playing"
	case PlayerPaused:
		return "paused"
	case PlayerProgress:
		return "progress"
	case PlayerEnded:
		return "ended"
	case PlayerError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events follow this kind.
func (k PlayerEventKind) Terminal() bool {
	return k == PlayerEnded || k == PlayerError
}

// PlayerEvent is a lifecycle notification from a [PlaybackHandle].
type PlayerEvent struct {
	Kind     PlayerEventKind
	Position time.Duration
	Duration time.Duration

	// Err is set for [PlayerError].
	Err error
}
