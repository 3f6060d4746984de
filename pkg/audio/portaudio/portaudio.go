// Package portaudio provides [audio.Microphone] and [audio.Player]
// implementations for the host's default sound devices via PortAudio.
//
// Call [Initialize] once before opening any device and run the returned
// terminate function on shutdown.
//
// Playback accepts WAV (16-bit PCM) and MP3 clips. MP3 is decoded with beep;
// output always goes through a PortAudio stream so that capture and playback
// share one audio backend.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	pa "github.com/gordonklaus/portaudio"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone = (*Microphone)(nil)
	_ audio.Player     = (*Player)(nil)
)

const (
	defaultSampleRate      = 16000
	defaultFramesPerBuffer = 320
	outputFramesPerBuffer  = 1024
	progressInterval       = 200 * time.Millisecond
)

// Initialize starts the PortAudio library and returns the function that
// shuts it down.
func Initialize() (terminate func() error, err error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return pa.Terminate, nil
}

// ─── Microphone ───────────────────────────────────────────────────────────────

// MicOption configures a [Microphone].
type MicOption func(*Microphone)

// WithSampleRate sets the capture rate in Hz. Defaults to 16000.
func WithSampleRate(rate int) MicOption {
	return func(m *Microphone) {
		m.format.SampleRate = rate
	}
}

// WithChannels sets the capture channel count. Defaults to 1.
func WithChannels(n int) MicOption {
	return func(m *Microphone) {
		m.format.Channels = n
	}
}

// Microphone captures from the default input device.
type Microphone struct {
	format audio.Format
}

// NewMicrophone creates a Microphone with the given options applied.
func NewMicrophone(opts ...MicOption) *Microphone {
	m := &Microphone{format: audio.Format{SampleRate: defaultSampleRate, Channels: 1}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Open implements [audio.Microphone]. PortAudio has no permission prompt; an
// OS-level refusal surfaces as a stream open failure and maps to
// [audio.ErrDeviceUnavailable].
func (m *Microphone) Open(ctx context.Context) (audio.InputHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dev, err := pa.DefaultInputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default input device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	params := pa.StreamParameters{
		Input: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: m.format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(m.format.SampleRate),
		FramesPerBuffer: defaultFramesPerBuffer,
	}

	h := &inputHandle{
		format: m.format,
		frames: make(chan audio.AudioFrame, 128),
	}
	stream, err := pa.OpenStream(params, h.capture)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open input stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("portaudio: start input stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	h.stream = stream
	slog.Debug("portaudio: microphone opened", "device", dev.Name, "sample_rate", m.format.SampleRate)
	return h, nil
}

type inputHandle struct {
	stream *pa.Stream
	format audio.Format
	frames chan audio.AudioFrame

	mu      sync.Mutex
	closed  bool
	elapsed time.Duration
	dropped int
}

// capture runs on the PortAudio callback thread.
func (h *inputHandle) capture(in []int16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	pcm := make([]int16, len(in))
	copy(pcm, in)
	data := audio.PCM16(pcm)
	select {
	case h.frames <- audio.AudioFrame{Data: data, SampleRate: h.format.SampleRate, Channels: h.format.Channels, Timestamp: h.elapsed}:
		h.elapsed += h.format.Duration(len(data))
	default:
		h.dropped++
	}
}

func (h *inputHandle) Frames() <-chan audio.AudioFrame { return h.frames }

func (h *inputHandle) Format() audio.Format { return h.format }

func (h *inputHandle) Err() error { return nil }

func (h *inputHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.frames)
	dropped := h.dropped
	h.mu.Unlock()

	if dropped > 0 {
		slog.Warn("portaudio: microphone frames dropped", "count", dropped)
	}
	// Stop waits for the callback to return, so it must run unlocked.
	stopErr := h.stream.Stop()
	closeErr := h.stream.Close()
	if stopErr != nil {
		return fmt.Errorf("portaudio: stop input stream: %w", stopErr)
	}
	if closeErr != nil {
		return fmt.Errorf("portaudio: close input stream: %w", closeErr)
	}
	return nil
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player plays clips on the default output device.
type Player struct{}

// NewPlayer creates a Player.
func NewPlayer() *Player { return &Player{} }

// Load implements [audio.Player]. Decoding happens here; the output stream is
// opened on the first Play.
func (p *Player) Load(ctx context.Context, clip audio.Clip) (audio.PlaybackHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d, err := decodeClip(clip)
	if err != nil {
		return nil, err
	}
	h := &playbackHandle{
		clip:     d,
		events:   make(chan audio.PlayerEvent, 64),
		finished: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go h.monitor()
	return h, nil
}

type playbackHandle struct {
	clip     *decoded
	events   chan audio.PlayerEvent
	finished chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	stream   *pa.Stream
	pos      int
	playing  bool
	terminal bool
	released bool
}

func (h *playbackHandle) Events() <-chan audio.PlayerEvent { return h.events }

func (h *playbackHandle) Duration() time.Duration { return h.clip.duration() }

func (h *playbackHandle) Play() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return audio.ErrReleased
	}
	if h.playing || h.terminal {
		h.mu.Unlock()
		return nil
	}
	stream := h.stream
	h.mu.Unlock()

	if stream == nil {
		var err error
		if stream, err = h.openStream(); err != nil {
			return err
		}
		h.mu.Lock()
		if h.released {
			h.mu.Unlock()
			_ = stream.Close()
			return audio.ErrReleased
		}
		h.stream = stream
		h.mu.Unlock()
	}
	if err := stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start output stream: %w", err)
	}

	h.mu.Lock()
	h.playing = true
	h.emitLocked(audio.PlayerEvent{Kind: audio.PlayerPlaying, Position: h.clip.position(h.pos), Duration: h.clip.duration()})
	h.mu.Unlock()
	return nil
}

func (h *playbackHandle) openStream() (*pa.Stream, error) {
	dev, err := pa.DefaultOutputDevice()
	if err != nil {
		return nil, fmt.Errorf("portaudio: default output device: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	params := pa.StreamParameters{
		Output: pa.StreamDeviceParameters{
			Device:   dev,
			Channels: h.clip.channels,
			Latency:  dev.DefaultHighOutputLatency,
		},
		SampleRate:      float64(h.clip.sampleRate),
		FramesPerBuffer: outputFramesPerBuffer,
	}
	stream, err := pa.OpenStream(params, h.render)
	if err != nil {
		return nil, fmt.Errorf("portaudio: open output stream: %w: %w", audio.ErrDeviceUnavailable, err)
	}
	return stream, nil
}

// render runs on the PortAudio callback thread.
func (h *playbackHandle) render(out []float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.clip.channels
	start := h.pos * ch
	n := 0
	if h.playing && !h.released && start < len(h.clip.samples) {
		n = copy(out, h.clip.samples[start:])
		h.pos += n / ch
	}
	clear(out[n:])
	if h.pos >= h.clip.frames() {
		select {
		case h.finished <- struct{}{}:
		default:
		}
	}
}

func (h *playbackHandle) Pause() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return audio.ErrReleased
	}
	if !h.playing {
		h.mu.Unlock()
		return nil
	}
	h.playing = false
	stream := h.stream
	h.mu.Unlock()

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop output stream: %w", err)
	}
	h.mu.Lock()
	h.emitLocked(audio.PlayerEvent{Kind: audio.PlayerPaused, Position: h.clip.position(h.pos), Duration: h.clip.duration()})
	h.mu.Unlock()
	return nil
}

// monitor reports progress and turns the render thread's end signal into the
// ended event.
func (h *playbackHandle) monitor() {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.mu.Lock()
			if h.playing {
				h.emitLocked(audio.PlayerEvent{Kind: audio.PlayerProgress, Position: h.clip.position(h.pos), Duration: h.clip.duration()})
			}
			h.mu.Unlock()
		case <-h.finished:
			h.mu.Lock()
			h.playing = false
			h.emitLocked(audio.PlayerEvent{Kind: audio.PlayerEnded, Position: h.clip.duration(), Duration: h.clip.duration()})
			h.mu.Unlock()
			return
		}
	}
}

func (h *playbackHandle) emitLocked(ev audio.PlayerEvent) {
	if h.released || h.terminal {
		return
	}
	if ev.Kind.Terminal() {
		h.terminal = true
	}
	select {
	case h.events <- ev:
	default:
	}
}

func (h *playbackHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	h.playing = false
	close(h.done)
	close(h.events)
	stream := h.stream
	h.mu.Unlock()

	if stream == nil {
		return nil
	}
	// Closing an active stream discards its pending buffers.
	if err := stream.Close(); err != nil {
		return fmt.Errorf("portaudio: close output stream: %w", err)
	}
	return nil
}
