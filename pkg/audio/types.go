package audio

import (
	"strings"
	"time"
)

// AudioFrame is a single block of PCM audio delivered by an [InputHandle].
// Data is always 16-bit signed little-endian PCM, interleaved when Channels > 1.
type AudioFrame struct {
	// Data holds the PCM samples.
	Data []byte

	// SampleRate in Hz (e.g. 48000 for browser capture, 16000 for upload clips).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of 16-bit PCM in this format play for.
// Returns zero for an invalid format.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Clip is an encoded, self-contained piece of audio: a finished recording
// ready for upload or a synthesized reply ready for playback.
//
// A Clip is treated as immutable once built. Use [Clip.Clone] when a copy
// must outlive the caller's buffer.
type Clip struct {
	// Data holds the encoded bytes (WAV, MP3, WebM...).
	Data []byte

	// MIMEType declares the container, e.g. "audio/wav" or "audio/mpeg".
	MIMEType string

	// Duration is the playback length when known, zero otherwise.
	Duration time.Duration
}

// Empty reports whether the clip carries no audio bytes.
func (c Clip) Empty() bool {
	return len(c.Data) == 0
}

// Clone returns a deep copy of c.
func (c Clip) Clone() Clip {
	if c.Data == nil {
		return c
	}
	out := c
	out.Data = make([]byte, len(c.Data))
	copy(out.Data, c.Data)
	return out
}

// Extension returns the file extension conventionally used for the clip's
// MIME type, without the dot. Unknown types yield "bin".
func (c Clip) Extension() string {
	mt := c.MIMEType
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	switch strings.TrimSpace(mt) {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return "wav"
	case "audio/mpeg", "audio/mp3":
		return "mp3"
	case "audio/webm":
		return "webm"
	case "audio/ogg":
		return "ogg"
	default:
		return "bin"
	}
}
