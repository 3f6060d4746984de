package audio_test

import (
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

func equalSamples(t *testing.T, got, want []int16) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d (%v), want %d (%v)", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestUpmix16(t *testing.T) {
	t.Parallel()
	out := audio.Upmix16(audio.PCM16([]int16{100, 200, 300}), 2)
	equalSamples(t, audio.Samples16(out), []int16{100, 100, 200, 200, 300, 300})
}

func TestDownmix16(t *testing.T) {
	t.Parallel()
	out := audio.Downmix16(audio.PCM16([]int16{100, 200, -100, -200}), 2)
	equalSamples(t, audio.Samples16(out), []int16{150, -150})
}

func TestDownmix16_Clamping(t *testing.T) {
	t.Parallel()
	out := audio.Downmix16(audio.PCM16([]int16{32767, 32767}), 2)
	equalSamples(t, audio.Samples16(out), []int16{32767})
}

func TestDownmix16_DropsPartialFrame(t *testing.T) {
	t.Parallel()
	out := audio.Downmix16(audio.PCM16([]int16{10, 20, 30}), 2)
	equalSamples(t, audio.Samples16(out), []int16{15})
}

func TestResample16_SameRate(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16([]int16{1, 2, 3})
	out := audio.Resample16(pcm, 1, 48000, 48000)
	if len(out) != len(pcm) {
		t.Fatalf("length = %d, want %d", len(out), len(pcm))
	}
}

func TestResample16_Upsample(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16([]int16{0, 1000, 2000, 3000})
	out := audio.Resample16(pcm, 1, 8000, 16000)
	equalSamples(t, audio.Samples16(out), []int16{0, 500, 1000, 1500, 2000, 2500, 3000, 3000})
}

func TestResample16_Downsample(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16([]int16{0, 1, 2, 3, 4, 5, 6, 7})
	out := audio.Resample16(pcm, 1, 16000, 8000)
	equalSamples(t, audio.Samples16(out), []int16{0, 2, 4, 6})
}

func TestResample16_Stereo(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16([]int16{0, 100, 1000, 1100})
	out := audio.Resample16(pcm, 2, 8000, 16000)
	equalSamples(t, audio.Samples16(out), []int16{0, 100, 500, 600, 1000, 1100, 1000, 1100})
}

func TestResample16_InvalidRate(t *testing.T) {
	t.Parallel()
	pcm := audio.PCM16([]int16{1, 2})
	for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-1, 8000}} {
		out := audio.Resample16(pcm, 1, rates[0], rates[1])
		if len(out) != len(pcm) {
			t.Errorf("rates %v: length = %d, want unchanged %d", rates, len(out), len(pcm))
		}
	}
}

func TestConverter_NoOp(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{Data: audio.PCM16([]int16{5, 6}), SampleRate: 16000, Channels: 1}
	out := conv.Convert(in)
	if &out.Data[0] != &in.Data[0] {
		t.Error("expected the frame to pass through without copying")
	}
}

func TestConverter_BrowserToUpload(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	in := audio.AudioFrame{
		Data:       make([]byte, 480*4), // 10ms of 48kHz stereo
		SampleRate: 48000,
		Channels:   2,
		Timestamp:  20 * time.Millisecond,
	}
	out := conv.Convert(in)
	if out.SampleRate != 16000 || out.Channels != 1 {
		t.Fatalf("format = %dHz/%dch, want 16000Hz/1ch", out.SampleRate, out.Channels)
	}
	if len(out.Data) != 160*2 {
		t.Errorf("bytes = %d, want %d", len(out.Data), 160*2)
	}
	if out.Timestamp != in.Timestamp {
		t.Errorf("timestamp = %v, want %v", out.Timestamp, in.Timestamp)
	}
}

func TestConverter_MalformedFrame(t *testing.T) {
	t.Parallel()
	conv := audio.Converter{Target: audio.Format{SampleRate: 16000, Channels: 1}}
	for name, in := range map[string]audio.AudioFrame{
		"odd bytes":      {Data: []byte{1, 2, 3}, SampleRate: 16000, Channels: 1},
		"partial stereo": {Data: []byte{1, 2}, SampleRate: 48000, Channels: 2},
		"zero channels":  {Data: []byte{1, 2}, SampleRate: 48000},
	} {
		if out := conv.Convert(in); out.Data != nil {
			t.Errorf("%s: expected nil data, got %d bytes", name, len(out.Data))
		}
	}
}

func TestFloatToPCM16(t *testing.T) {
	t.Parallel()
	out := audio.FloatToPCM16([]float32{1, -1, 0, 2, -2})
	equalSamples(t, audio.Samples16(out), []int16{32767, -32767, 0, 32767, -32768})
}

func TestFormatDuration(t *testing.T) {
	t.Parallel()
	f := audio.Format{SampleRate: 16000, Channels: 1}
	if got := f.Duration(32000); got != time.Second {
		t.Errorf("Duration(32000) = %v, want 1s", got)
	}
	if got := (audio.Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestClipExtension(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"audio/wav":              "wav",
		"audio/mpeg":             "mp3",
		"audio/webm;codecs=opus": "webm",
		"audio/ogg":              "ogg",
		"":                       "bin",
	}
	for mime, want := range cases {
		if got := (audio.Clip{MIMEType: mime}).Extension(); got != want {
			t.Errorf("Extension(%q) = %q, want %q", mime, got, want)
		}
	}
}

func TestClipClone(t *testing.T) {
	t.Parallel()
	c := audio.Clip{Data: []byte{1, 2, 3}, MIMEType: "audio/wav"}
	cp := c.Clone()
	cp.Data[0] = 9
	if c.Data[0] != 1 {
		t.Error("Clone shares the underlying buffer")
	}
	if (audio.Clip{}).Empty() != true {
		t.Error("zero clip should be empty")
	}
}
