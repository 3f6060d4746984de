package portaudio

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/faiface/beep/mp3"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

// decoded is a clip expanded to interleaved float samples ready for output.
type decoded struct {
	samples    []float32
	channels   int
	sampleRate int
}

func (d *decoded) frames() int {
	if d.channels == 0 {
		return 0
	}
	return len(d.samples) / d.channels
}

func (d *decoded) duration() time.Duration {
	if d.sampleRate == 0 {
		return 0
	}
	return time.Duration(int64(d.frames()) * int64(time.Second) / int64(d.sampleRate))
}

func (d *decoded) position(frame int) time.Duration {
	if d.sampleRate == 0 {
		return 0
	}
	return time.Duration(int64(frame) * int64(time.Second) / int64(d.sampleRate))
}

// decodeClip expands WAV or MP3 clips. Anything else is rejected with
// [audio.ErrDecode].
func decodeClip(clip audio.Clip) (*decoded, error) {
	if clip.Empty() {
		return nil, fmt.Errorf("portaudio: %w: empty clip", audio.ErrDecode)
	}
	switch clip.Extension() {
	case "wav":
		return decodeWAV(clip.Data)
	case "mp3":
		return decodeMP3(clip.Data)
	default:
		return nil, fmt.Errorf("portaudio: %w: unsupported type %q", audio.ErrDecode, clip.MIMEType)
	}
}

func decodeWAV(data []byte) (*decoded, error) {
	pcm, f, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("portaudio: %w", err)
	}
	samples := audio.Samples16(pcm)
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return &decoded{samples: out, channels: f.Channels, sampleRate: f.SampleRate}, nil
}

func decodeMP3(data []byte) (*decoded, error) {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrDecode, err)
	}
	defer streamer.Close()

	// beep always streams stereo pairs.
	out := make([]float32, 0, max(streamer.Len(), 0)*2)
	buf := make([][2]float64, 4096)
	for {
		n, ok := streamer.Stream(buf)
		for _, pair := range buf[:n] {
			out = append(out, float32(pair[0]), float32(pair[1]))
		}
		if !ok {
			break
		}
	}
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("portaudio: %w: %w", audio.ErrDecode, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("portaudio: %w: no audio frames", audio.ErrDecode)
	}
	return &decoded{samples: out, channels: 2, sampleRate: int(format.SampleRate)}, nil
}
