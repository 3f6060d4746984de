package portaudio

import (
	"errors"
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

func TestDecodeClip_WAV(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16([]int16{16384, -16384, 0, 32767})
	clip := audio.WAVClip(pcm, audio.Format{SampleRate: 8000, Channels: 2})

	d, err := decodeClip(clip)
	if err != nil {
		t.Fatalf("decodeClip: %v", err)
	}
	if d.channels != 2 || d.sampleRate != 8000 {
		t.Fatalf("format = %d ch @ %d Hz", d.channels, d.sampleRate)
	}
	if d.frames() != 2 {
		t.Errorf("frames = %d, want 2", d.frames())
	}
	want := []float32{0.5, -0.5, 0}
	for i, w := range want {
		if d.samples[i] != w {
			t.Errorf("sample %d = %v, want %v", i, d.samples[i], w)
		}
	}
	if d.duration() != 250*time.Microsecond {
		t.Errorf("duration = %v, want 250µs", d.duration())
	}
}

func TestDecodeClip_Rejects(t *testing.T) {
	t.Parallel()
	cases := map[string]audio.Clip{
		"empty":       {MIMEType: "audio/wav"},
		"unsupported": {Data: []byte("OggS"), MIMEType: "audio/ogg"},
		"bad wav":     {Data: []byte("not a wav"), MIMEType: "audio/wav"},
		"bad mp3":     {Data: []byte("definitely not mpeg audio"), MIMEType: "audio/mpeg"},
	}
	for name, clip := range cases {
		if _, err := decodeClip(clip); !errors.Is(err, audio.ErrDecode) {
			t.Errorf("%s: err = %v, want ErrDecode", name, err)
		}
	}
}

func TestDecodedPosition(t *testing.T) {
	t.Parallel()
	d := &decoded{samples: make([]float32, 32000), channels: 2, sampleRate: 16000}
	if got := d.position(8000); got != 500*time.Millisecond {
		t.Errorf("position = %v, want 500ms", got)
	}
	if got := d.duration(); got != time.Second {
		t.Errorf("duration = %v, want 1s", got)
	}
}
