package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
)

// Converter reshapes frames into a target [Format]. It logs once on the
// first mismatch and once on the first malformed frame.
// Create one per stream; it is not meant to be shared across goroutines.
type Converter struct {
	Target Format

	warnMismatch sync.Once
	warnCorrupt  sync.Once
}

// Convert returns frame in the target format. A frame already in the target
// format is returned as-is. Frames whose byte count is not a whole number of
// sample frames come back with nil Data and should be dropped.
//
// Channels are folded first so that resampling works on as few channels as
// possible.
func (c *Converter) Convert(frame AudioFrame) AudioFrame {
	out := AudioFrame{
		SampleRate: c.Target.SampleRate,
		Channels:   c.Target.Channels,
		Timestamp:  frame.Timestamp,
	}
	if frame.Channels <= 0 || frame.SampleRate <= 0 || len(frame.Data)%(2*frame.Channels) != 0 {
		c.warnCorrupt.Do(func() {
			slog.Warn("audio: malformed PCM frame, dropping",
				"bytes", len(frame.Data),
				"sample_rate", frame.SampleRate,
				"channels", frame.Channels,
			)
		})
		return out
	}

	if frame.SampleRate == c.Target.SampleRate && frame.Channels == c.Target.Channels {
		return frame
	}

	c.warnMismatch.Do(func() {
		slog.Debug("audio: converting stream",
			"from", describe(frame.SampleRate, frame.Channels),
			"to", describe(c.Target.SampleRate, c.Target.Channels),
		)
	})

	pcm := frame.Data
	channels := frame.Channels
	switch {
	case c.Target.Channels == 1 && channels > 1:
		pcm = Downmix16(pcm, channels)
		channels = 1
	case c.Target.Channels > 1 && channels == 1:
		pcm = Upmix16(pcm, c.Target.Channels)
		channels = c.Target.Channels
	}
	out.Data = Resample16(pcm, channels, frame.SampleRate, c.Target.SampleRate)
	return out
}

// Downmix16 averages interleaved 16-bit PCM with the given channel count down
// to mono. Trailing partial frames are dropped.
func Downmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := 2 * channels
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*stride + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// Upmix16 copies each mono 16-bit sample into every one of channels.
func Upmix16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*2*channels)
	for i := range samples {
		lo, hi := pcm[i*2], pcm[i*2+1]
		for ch := range channels {
			j := (i*channels + ch) * 2
			out[j] = lo
			out[j+1] = hi
		}
	}
	return out
}

// Resample16 converts interleaved 16-bit PCM from srcRate to dstRate with
// linear interpolation per channel. Invalid rates or equal rates return pcm
// unchanged.
func Resample16(pcm []byte, channels, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || channels <= 0 || srcRate == dstRate {
		return pcm
	}
	stride := 2 * channels
	srcFrames := len(pcm) / stride
	if srcFrames == 0 {
		return nil
	}
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		off := frame*stride + ch*2
		return float64(int16(binary.LittleEndian.Uint16(pcm[off:])))
	}

	out := make([]byte, dstFrames*stride)
	step := float64(srcRate) / float64(dstRate)
	for i := range dstFrames {
		pos := float64(i) * step
		idx := int(pos)
		frac := pos - float64(idx)
		next := min(idx+1, srcFrames-1)
		for ch := range channels {
			v := sample(idx, ch)*(1-frac) + sample(next, ch)*frac
			binary.LittleEndian.PutUint16(out[i*stride+ch*2:], uint16(int16(v)))
		}
	}
	return out
}

// Samples16 decodes little-endian 16-bit PCM into samples.
func Samples16(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// PCM16 encodes samples as little-endian 16-bit PCM.
func PCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// FloatToPCM16 converts normalised float samples in [-1, 1] to 16-bit PCM,
// clipping values outside that range.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(int32(math.Max(-32768, math.Min(32767, v))))))
	}
	return out
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

func describe(rate, channels int) string {
	switch channels {
	case 1:
		return fmt.Sprintf("%dHz mono", rate)
	case 2:
		return fmt.Sprintf("%dHz stereo", rate)
	default:
		return fmt.Sprintf("%dHz %dch", rate, channels)
	}
}
