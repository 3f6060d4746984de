// Package mock provides in-memory implementations of the [audio.Microphone],
// [audio.InputHandle], [audio.Player] and [audio.PlaybackHandle] interfaces for
// use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they track how many handles are open at
// once so exclusivity can be checked directly.
//
// Typical usage:
//
//	mic := &mock.Microphone{}
//	h, _ := mic.Open(ctx)
//	mic.Last().Push(pcm)
//	...
//	if mic.MaxOpen() > 1 { t.Fatal("two microphone handles at once") }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

var (
	_ audio.Microphone     = (*Microphone)(nil)
	_ audio.InputHandle    = (*InputHandle)(nil)
	_ audio.Player         = (*Player)(nil)
	_ audio.PlaybackHandle = (*PlaybackHandle)(nil)
)

// DefaultFormat is the capture format reported when [Microphone.Format] is
// left zero.
var DefaultFormat = audio.Format{SampleRate: 16000, Channels: 1}

// ─── Microphone ───────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
// Set the exported fields before use; inspect the counters after.
type Microphone struct {
	mu sync.Mutex

	// OpenErr is returned by Open when non-nil.
	OpenErr error

	// Format is reported by every opened handle. Defaults to [DefaultFormat].
	Format audio.Format

	// Gate, when non-nil, makes Open block until the channel is closed or ctx
	// is done. Use it to hold a capture in the permission phase.
	Gate chan struct{}

	// OpenCalls records how many times Open was called.
	OpenCalls int

	handles []*InputHandle
	open    int
	maxOpen int
	opened  chan *InputHandle
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(ctx context.Context) (audio.InputHandle, error) {
	m.mu.Lock()
	m.OpenCalls++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	f := m.Format
	if f.SampleRate == 0 {
		f = DefaultFormat
	}
	h := &InputHandle{
		frames: make(chan audio.AudioFrame, 256),
		format: f,
		onClose: func() {
			m.mu.Lock()
			m.open--
			m.mu.Unlock()
		},
	}
	m.handles = append(m.handles, h)
	m.open++
	m.maxOpen = max(m.maxOpen, m.open)
	select {
	case m.openedCh() <- h:
	default:
	}
	return h, nil
}

// Opened returns a channel receiving every handle as it is opened.
// Up to 64 handles are buffered.
func (m *Microphone) Opened() <-chan *InputHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openedCh()
}

func (m *Microphone) openedCh() chan *InputHandle {
	if m.opened == nil {
		m.opened = make(chan *InputHandle, 64)
	}
	return m.opened
}

// Handles returns every handle opened so far, oldest first.
func (m *Microphone) Handles() []*InputHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*InputHandle, len(m.handles))
	copy(out, m.handles)
	return out
}

// Last returns the most recently opened handle, or nil.
func (m *Microphone) Last() *InputHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.handles) == 0 {
		return nil
	}
	return m.handles[len(m.handles)-1]
}

// OpenCount reports how many handles are currently open.
func (m *Microphone) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// MaxOpen reports the highest number of simultaneously open handles.
func (m *Microphone) MaxOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxOpen
}

// ─── InputHandle ──────────────────────────────────────────────────────────────

// InputHandle is a mock implementation of [audio.InputHandle]. Frames are fed
// with [InputHandle.Push]; a device drop is simulated with [InputHandle.Fail].
type InputHandle struct {
	mu      sync.Mutex
	frames  chan audio.AudioFrame
	format  audio.Format
	err     error
	ended   bool
	closed  bool
	pushed  time.Duration
	onClose func()

	// CloseCount records how many times Close was called.
	CloseCount int
}

// Frames implements [audio.InputHandle].
func (h *InputHandle) Frames() <-chan audio.AudioFrame { return h.frames }

// Format implements [audio.InputHandle].
func (h *InputHandle) Format() audio.Format { return h.format }

// Err implements [audio.InputHandle].
func (h *InputHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Close implements [audio.InputHandle]. Only the first call releases.
func (h *InputHandle) Close() error {
	h.mu.Lock()
	h.CloseCount++
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	if !h.ended {
		h.ended = true
		close(h.frames)
	}
	onClose := h.onClose
	h.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

// Push delivers pcm as one frame in the handle's format. It reports false when
// the handle has ended or the buffer is full.
func (h *InputHandle) Push(pcm []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return false
	}
	f := audio.AudioFrame{
		Data:       pcm,
		SampleRate: h.format.SampleRate,
		Channels:   h.format.Channels,
		Timestamp:  h.pushed,
	}
	select {
	case h.frames <- f:
		h.pushed += h.format.Duration(len(pcm))
		return true
	default:
		return false
	}
}

// Fail ends the frame stream early with err, as a device drop would. The
// handle still counts as open until Close.
func (h *InputHandle) Fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ended {
		return
	}
	h.err = err
	h.ended = true
	close(h.frames)
}

// Closed reports whether Close has been called.
func (h *InputHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Closes returns CloseCount under the lock.
func (h *InputHandle) Closes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.CloseCount
}

// ─── Player ───────────────────────────────────────────────────────────────────

// Player is a mock implementation of [audio.Player].
type Player struct {
	mu sync.Mutex

	// LoadErr is returned by Load when non-nil.
	LoadErr error

	// PlayErr is copied into every handle and returned by its Play.
	PlayErr error

	// Duration is reported by every loaded handle.
	Duration time.Duration

	// Block, when non-nil, holds every Load until it is closed or the
	// load's context ends.
	Block chan struct{}

	// LoadCalls records the clip of every Load call.
	LoadCalls []audio.Clip

	handles   []*PlaybackHandle
	active    int
	maxActive int
	loaded    chan *PlaybackHandle
	loading   chan struct{}
}

// Load implements [audio.Player].
func (p *Player) Load(ctx context.Context, clip audio.Clip) (audio.PlaybackHandle, error) {
	p.mu.Lock()
	p.LoadCalls = append(p.LoadCalls, clip)
	block := p.Block
	select {
	case p.loadingCh() <- struct{}{}:
	default:
	}
	p.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.LoadErr != nil {
		return nil, p.LoadErr
	}
	h := &PlaybackHandle{
		events:   make(chan audio.PlayerEvent, 256),
		duration: p.Duration,
		playErr:  p.PlayErr,
		Clip:     clip,
		onRelease: func() {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		},
	}
	p.handles = append(p.handles, h)
	p.active++
	p.maxActive = max(p.maxActive, p.active)
	select {
	case p.loadedCh() <- h:
	default:
	}
	return h, nil
}

// Loaded returns a channel receiving every handle as it is loaded.
// Up to 64 handles are buffered.
func (p *Player) Loaded() <-chan *PlaybackHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadedCh()
}

func (p *Player) loadedCh() chan *PlaybackHandle {
	if p.loaded == nil {
		p.loaded = make(chan *PlaybackHandle, 64)
	}
	return p.loaded
}

// Loading returns a channel signalled when a Load call begins, before
// any [Player.Block] wait. Up to 64 signals are buffered.
func (p *Player) Loading() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadingCh()
}

func (p *Player) loadingCh() chan struct{} {
	if p.loading == nil {
		p.loading = make(chan struct{}, 64)
	}
	return p.loading
}

// Handles returns every handle loaded so far, oldest first.
func (p *Player) Handles() []*PlaybackHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*PlaybackHandle, len(p.handles))
	copy(out, p.handles)
	return out
}

// ActiveCount reports how many handles are loaded and not yet released.
func (p *Player) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// MaxActive reports the highest number of simultaneously unreleased handles.
func (p *Player) MaxActive() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

// ─── PlaybackHandle ───────────────────────────────────────────────────────────

// PlaybackHandle is a mock implementation of [audio.PlaybackHandle].
// Play and Pause emit the matching event like a real device would; the test
// drives the rest with [PlaybackHandle.Progress], [PlaybackHandle.End] and
// [PlaybackHandle.Fail].
type PlaybackHandle struct {
	mu        sync.Mutex
	events    chan audio.PlayerEvent
	duration  time.Duration
	playErr   error
	terminal  bool
	released  bool
	onRelease func()

	// Clip is the clip this handle was loaded from.
	Clip audio.Clip

	// PlayCount, PauseCount and ReleaseCount record method calls.
	PlayCount    int
	PauseCount   int
	ReleaseCount int
}

// Play implements [audio.PlaybackHandle].
func (h *PlaybackHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PlayCount++
	if h.released {
		return audio.ErrReleased
	}
	if h.playErr != nil {
		return h.playErr
	}
	h.emitLocked(audio.PlayerEvent{Kind: audio.PlayerPlaying, Duration: h.duration})
	return nil
}

// Pause implements [audio.PlaybackHandle].
func (h *PlaybackHandle) Pause() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.PauseCount++
	if h.released {
		return audio.ErrReleased
	}
	h.emitLocked(audio.PlayerEvent{Kind: audio.PlayerPaused, Duration: h.duration})
	return nil
}

// Events implements [audio.PlaybackHandle].
func (h *PlaybackHandle) Events() <-chan audio.PlayerEvent { return h.events }

// Duration implements [audio.PlaybackHandle].
func (h *PlaybackHandle) Duration() time.Duration { return h.duration }

// Release implements [audio.PlaybackHandle]. Only the first call releases.
func (h *PlaybackHandle) Release() error {
	h.mu.Lock()
	h.ReleaseCount++
	if h.released {
		h.mu.Unlock()
		return nil
	}
	h.released = true
	close(h.events)
	onRelease := h.onRelease
	h.mu.Unlock()
	if onRelease != nil {
		onRelease()
	}
	return nil
}

// Progress emits a progress event at pos.
func (h *PlaybackHandle) Progress(pos time.Duration) {
	h.emit(audio.PlayerEvent{Kind: audio.PlayerProgress, Position: pos, Duration: h.duration})
}

// End emits the ended event.
func (h *PlaybackHandle) End() {
	h.emit(audio.PlayerEvent{Kind: audio.PlayerEnded, Position: h.duration, Duration: h.duration})
}

// Fail emits a mid-stream error event.
func (h *PlaybackHandle) Fail(err error) {
	h.emit(audio.PlayerEvent{Kind: audio.PlayerError, Err: err, Duration: h.duration})
}

func (h *PlaybackHandle) emit(ev audio.PlayerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emitLocked(ev)
}

func (h *PlaybackHandle) emitLocked(ev audio.PlayerEvent) {
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

// Released reports whether Release has been called.
func (h *PlaybackHandle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Releases returns ReleaseCount under the lock.
func (h *PlaybackHandle) Releases() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ReleaseCount
}

// Plays returns PlayCount under the lock.
func (h *PlaybackHandle) Plays() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.PlayCount
}
