package wsbridge

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

// ─── Microphone handle ────────────────────────────────────────────────────────

type inputHandle struct {
	b      *Bridge
	c      *client
	id     string
	format audio.Format
	frames chan audio.AudioFrame

	mu      sync.Mutex
	ended   bool
	closed  bool
	err     error
	elapsed time.Duration
	dropped int
}

var _ audio.InputHandle = (*inputHandle)(nil)

func newInputHandle(b *Bridge, c *client, id string, f audio.Format) *inputHandle {
	return &inputHandle{
		b:      b,
		c:      c,
		id:     id,
		format: f,
		frames: make(chan audio.AudioFrame, frameBuffer),
	}
}

func (h *inputHandle) Frames() <-chan audio.AudioFrame { return h.frames }

func (h *inputHandle) Format() audio.Format { return h.format }

func (h *inputHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *inputHandle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if !h.ended {
		h.ended = true
		close(h.frames)
	}
	dropped := h.dropped
	h.mu.Unlock()

	h.b.mu.Lock()
	if h.c.mic == h {
		h.c.mic = nil
	}
	gone := h.c.gone
	h.b.mu.Unlock()

	if dropped > 0 {
		slog.Warn("wsbridge: microphone frames dropped", "count", dropped)
	}
	if gone {
		return nil
	}
	return h.b.send(context.Background(), h.c, TypeMicClose, h.id, nil)
}

func (h *inputHandle) push(pcm []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return
	}
	f := audio.AudioFrame{
		Data:       pcm,
		SampleRate: h.format.SampleRate,
		Channels:   h.format.Channels,
		Timestamp:  h.elapsed,
	}
	select {
	case h.frames <- f:
		h.elapsed += h.format.Duration(len(pcm))
	default:
		h.dropped++
	}
}

func (h *inputHandle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return
	}
	h.err = err
	h.ended = true
	close(h.frames)
}

// ─── Playback handle ──────────────────────────────────────────────────────────

// progressHeadroom keeps the tail of the event buffer free for non-progress
// events, so a slow reader loses progress ticks rather than the terminal event.
const progressHeadroom = 8

type playbackHandle struct {
	b        *Bridge
	c        *client
	id       string
	duration time.Duration
	events   chan audio.PlayerEvent

	mu       sync.Mutex
	terminal bool
	released bool
}

var _ audio.PlaybackHandle = (*playbackHandle)(nil)

func newPlaybackHandle(b *Bridge, c *client, id string, d time.Duration) *playbackHandle {
	return &playbackHandle{
		b:        b,
		c:        c,
		id:       id,
		duration: d,
		events:   make(chan audio.PlayerEvent, eventBuffer),
	}
}

func (h *playbackHandle) Play() error  { return h.command(TypePlaybackPlay) }
func (h *playbackHandle) Pause() error { return h.command(TypePlaybackPause) }

func (h *playbackHandle) command(typ string) error {
	h.mu.Lock()
	released := h.released
	h.mu.Unlock()
	if released {
		return audio.ErrReleased
	}
	return h.b.send(context.Background(), h.c, typ, h.id, nil)
}

func (h *playbackHandle) Events() <-chan audio.PlayerEvent { return h.events }

func (h *playbackHandle) Duration() time.Duration { return h.duration }

func (h *playbackHandle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	close(h.events)
	h.mu.Unlock()

	h.b.mu.Lock()
	delete(h.c.handles, h.id)
	gone := h.c.gone
	h.b.mu.Unlock()
	if gone {
		return nil
	}
	return h.b.send(context.Background(), h.c, TypePlaybackRelease, h.id, nil)
}

func (h *playbackHandle) deliver(ev PlaybackEvent) {
	out := audio.PlayerEvent{Position: ms(ev.PositionMS), Duration: ms(ev.DurationMS)}
	if out.Duration == 0 {
		out.Duration = h.duration
	}
	switch ev.Kind {
	case "playing":
		out.Kind = audio.PlayerPlaying
	case "paused":
		out.Kind = audio.PlayerPaused
	case "progress":
		out.Kind = audio.PlayerProgress
	case "ended":
		out.Kind = audio.PlayerEnded
	case "error":
		out.Kind = audio.PlayerError
		msg := ev.Message
		if msg == "" {
			msg = "unknown error"
		}
		out.Err = errors.New("wsbridge: browser playback failed: " + msg)
	default:
		slog.Debug("wsbridge: unknown playback event kind", "kind", ev.Kind)
		return
	}
	h.emit(out)
}

func (h *playbackHandle) fail(err error) {
	h.emit(audio.PlayerEvent{Kind: audio.PlayerError, Err: err, Duration: h.duration})
}

func (h *playbackHandle) emit(ev audio.PlayerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released || h.terminal {
		return
	}
	if ev.Kind == audio.PlayerProgress && len(h.events) >= cap(h.events)-progressHeadroom {
		return
	}
	if ev.Kind.Terminal() {
		h.terminal = true
	}
	select {
	case h.events <- ev:
	default:
		slog.Warn("wsbridge: playback event buffer full, dropping", "kind", ev.Kind)
	}
}
