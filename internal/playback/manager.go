// Package playback owns the single active utterance of a session.
//
// A [Manager] loads encoded clips through an [audio.Player], starts them, and
// turns the handle's raw events into an ordered lifecycle:
//
//	started → (progress | paused | resumed)* → ended
//	[started →] errored
//
// Every session gets exactly one terminal event and its handle is released
// exactly once, whether it finished, failed, was stopped or was superseded
// by the next Play. Events of all sessions are delivered from one dispatch
// goroutine in FIFO order, so observers never see two sessions interleave.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/pkg/audio"
)

var (
	// ErrPlayback wraps every load, start and mid-stream failure.
	ErrPlayback = errors.New("playback: failed")

	// ErrClosed is returned by Play and Replay after Close.
	ErrClosed = errors.New("playback: manager closed")
)

// Status of a playback session.
type Status int

const (
	StatusLoading Status = iota
	StatusPlaying
	StatusPaused
	StatusEnded
	StatusErrored
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusEnded:
		return "ended"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// EventKind classifies an [Event].
type EventKind int

const (
	EventStarted EventKind = iota
	EventProgress
	EventPaused
	EventResumed
	EventEnded
	EventErrored
)

// String returns the kind name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	case EventEnded:
		return "ended"
	case EventErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether k ends its session.
func (k EventKind) Terminal() bool { return k == EventEnded || k == EventErrored }

// Reason explains an ended event.
type Reason string

const (
	ReasonFinished   Reason = "finished"
	ReasonStopped    Reason = "stopped"
	ReasonSuperseded Reason = "superseded"
)

// Event is one lifecycle notification.
type Event struct {
	SessionID string
	Kind      EventKind
	Reason    Reason // set on EventEnded
	Position  time.Duration
	Duration  time.Duration

	// Text is the utterance the audio speaks; empty for replays.
	Text string

	// Replay marks sessions started with [Manager.Replay].
	Replay bool

	// Err is set on EventErrored and wraps [ErrPlayback].
	Err error
}

// Observer receives events on the dispatch goroutine. It must not block
// for long and must not call Close.
type Observer func(Event)

// Info describes the active session.
type Info struct {
	ID       string
	Status   Status
	Text     string
	Replay   bool
	Duration time.Duration
}

// Option configures a [Manager].
type Option func(*Manager)

// WithMetrics records playback gauges and event counts on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithObserver registers fn before the dispatch goroutine starts.
func WithObserver(fn Observer) Option {
	return func(mgr *Manager) { mgr.observers = append(mgr.observers, fn) }
}

// Manager owns at most one playback session. Safe for concurrent use.
type Manager struct {
	player  audio.Player
	metrics *observe.Metrics

	// load serializes Play and Replay so two handles never coexist.
	load sync.Mutex

	mu        sync.Mutex
	active    *session
	observers []Observer
	queue     []Event
	closed    bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	exited    chan struct{}
}

// New returns a Manager playing through player and starts its dispatch
// goroutine. Call [Manager.Close] to stop it.
func New(player audio.Player, opts ...Option) *Manager {
	m := &Manager{
		player: player,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	go m.dispatch()
	return m
}

// Observe registers fn for all future events.
func (m *Manager) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Play stops any active session, then loads and starts clip. text is the
// utterance the clip speaks. It returns the new session ID.
func (m *Manager) Play(ctx context.Context, clip audio.Clip, text string) (string, error) {
	return m.start(ctx, clip, text, false)
}

// Replay plays a past message. It preempts like Play, and its events carry
// Replay=true.
func (m *Manager) Replay(ctx context.Context, clip audio.Clip) (string, error) {
	return m.start(ctx, clip, "", true)
}

func (m *Manager) start(ctx context.Context, clip audio.Clip, text string, replay bool) (string, error) {
	m.load.Lock()
	defer m.load.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	m.mu.Unlock()

	// The previous handle is released before the next one is loaded.
	m.terminate(ReasonSuperseded)

	id := uuid.NewString()
	h, err := m.player.Load(ctx, clip)
	if err != nil {
		err = fmt.Errorf("%w: load: %w", ErrPlayback, err)
		m.mu.Lock()
		m.enqueueLocked(Event{SessionID: id, Kind: EventErrored, Text: text, Replay: replay, Err: err})
		m.mu.Unlock()
		return "", err
	}
	if m.metrics != nil {
		m.metrics.ActivePlaybacks.Add(ctx, 1)
	}

	s := &session{
		id:       id,
		handle:   h,
		text:     text,
		replay:   replay,
		duration: h.Duration(),
		status:   StatusLoading,
	}
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.release(s)
		return "", ErrClosed
	}
	m.active = s
	m.mu.Unlock()
	go m.pump(s)

	if err := h.Play(); err != nil {
		err = fmt.Errorf("%w: start: %w", ErrPlayback, err)
		m.mu.Lock()
		owned := m.endLocked(s, Event{Kind: EventErrored, Err: err})
		m.mu.Unlock()
		if owned {
			m.release(s)
		}
		return "", err
	}
	m.mu.Lock()
	m.startedLocked(s, 0)
	dur := s.duration
	m.mu.Unlock()
	slog.Debug("playback: started", "session", id, "replay", replay, "duration", dur)
	return id, nil
}

// startedLocked emits the started event of s once.
func (m *Manager) startedLocked(s *session, pos time.Duration) {
	if s.terminal || s.started {
		return
	}
	s.started = true
	s.status = StatusPlaying
	m.enqueueLocked(m.eventLocked(s, EventStarted, pos))
}

// Stop ends the active session with reason stopped. Without an active
// session it does nothing and emits nothing.
func (m *Manager) Stop() {
	m.terminate(ReasonStopped)
}

// StopSession stops the session id if it is still the active one. It
// reports whether it did.
func (m *Manager) StopSession(id string) bool {
	return m.terminateIf(func(s *session) bool { return s.id == id }, ReasonStopped)
}

func (m *Manager) terminate(reason Reason) {
	m.terminateIf(func(*session) bool { return true }, reason)
}

func (m *Manager) terminateIf(match func(*session) bool, reason Reason) bool {
	m.mu.Lock()
	s := m.active
	owned := s != nil && match(s) && m.endLocked(s, Event{Kind: EventEnded, Reason: reason})
	m.mu.Unlock()
	if owned {
		m.release(s)
	}
	return owned
}

// Pause suspends the active session. No-op without one.
func (m *Manager) Pause() error {
	s := m.current()
	if s == nil {
		return nil
	}
	if err := s.handle.Pause(); err != nil && !errors.Is(err, audio.ErrReleased) {
		return fmt.Errorf("%w: pause: %w", ErrPlayback, err)
	}
	return nil
}

// Resume continues a paused session. No-op without one.
func (m *Manager) Resume() error {
	s := m.current()
	if s == nil {
		return nil
	}
	if err := s.handle.Play(); err != nil && !errors.Is(err, audio.ErrReleased) {
		return fmt.Errorf("%w: resume: %w", ErrPlayback, err)
	}
	return nil
}

// Active describes the active session.
func (m *Manager) Active() (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.active
	if s == nil {
		return Info{}, false
	}
	return Info{ID: s.id, Status: s.status, Text: s.text, Replay: s.replay, Duration: s.duration}, true
}

// Close stops the active session, delivers the pending events and stops
// the dispatch goroutine. Safe to call more than once.
func (m *Manager) Close() error {
	m.load.Lock()
	m.terminate(ReasonStopped)
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.load.Unlock()

	m.closeOnce.Do(func() { close(m.done) })
	<-m.exited
	return nil
}

func (m *Manager) current() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// ─── session ─────────────────────────────────────────────────────────────────

type session struct {
	id       string
	handle   audio.PlaybackHandle
	text     string
	replay   bool
	duration time.Duration

	// Guarded by Manager.mu.
	status   Status
	started  bool
	terminal bool

	releaseOnce sync.Once
}

// pump translates handle events until the handle is released.
func (m *Manager) pump(s *session) {
	for ev := range s.handle.Events() {
		if ev.Duration > 0 {
			m.mu.Lock()
			s.duration = ev.Duration
			m.mu.Unlock()
		}
		switch ev.Kind {
		case audio.PlayerPlaying:
			// The first echo of the initial start is already reported.
			m.mu.Lock()
			switch {
			case s.terminal:
			case !s.started:
				m.startedLocked(s, ev.Position)
			case s.status == StatusPaused:
				s.status = StatusPlaying
				m.enqueueLocked(m.eventLocked(s, EventResumed, ev.Position))
			}
			m.mu.Unlock()
		case audio.PlayerPaused:
			m.mu.Lock()
			if !s.terminal && s.started {
				s.status = StatusPaused
				m.enqueueLocked(m.eventLocked(s, EventPaused, ev.Position))
			}
			m.mu.Unlock()
		case audio.PlayerProgress:
			m.mu.Lock()
			if !s.terminal && s.started {
				m.enqueueLocked(m.eventLocked(s, EventProgress, ev.Position))
			}
			m.mu.Unlock()
		case audio.PlayerEnded:
			m.mu.Lock()
			owned := m.endLocked(s, Event{Kind: EventEnded, Reason: ReasonFinished, Position: ev.Position})
			m.mu.Unlock()
			if owned {
				m.release(s)
			}
		case audio.PlayerError:
			err := fmt.Errorf("%w: %w", ErrPlayback, ev.Err)
			m.mu.Lock()
			owned := m.endLocked(s, Event{Kind: EventErrored, Err: err, Position: ev.Position})
			m.mu.Unlock()
			if owned {
				m.release(s)
			}
		}
	}
}

// endLocked emits the terminal event of s once and detaches it. It reports
// whether the caller now owns the release. A session ended before its start
// was reported gets its started event first.
func (m *Manager) endLocked(s *session, ev Event) bool {
	if s.terminal {
		return false
	}
	if ev.Kind == EventEnded {
		m.startedLocked(s, 0)
	}
	s.terminal = true
	if ev.Kind == EventErrored {
		s.status = StatusErrored
	} else {
		s.status = StatusEnded
	}
	if m.active == s {
		m.active = nil
	}
	out := m.eventLocked(s, ev.Kind, ev.Position)
	out.Reason, out.Err = ev.Reason, ev.Err
	m.enqueueLocked(out)
	return true
}

func (m *Manager) eventLocked(s *session, kind EventKind, pos time.Duration) Event {
	return Event{
		SessionID: s.id,
		Kind:      kind,
		Position:  pos,
		Duration:  s.duration,
		Text:      s.text,
		Replay:    s.replay,
	}
}

func (m *Manager) release(s *session) {
	s.releaseOnce.Do(func() {
		if err := s.handle.Release(); err != nil {
			slog.Warn("playback: release handle", "session", s.id, "err", err)
		}
		if m.metrics != nil {
			m.metrics.ActivePlaybacks.Add(context.Background(), -1)
		}
	})
}

// ─── dispatch ────────────────────────────────────────────────────────────────

func (m *Manager) enqueueLocked(ev Event) {
	m.queue = append(m.queue, ev)
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

func (m *Manager) dispatch() {
	defer close(m.exited)
	for {
		select {
		case <-m.notify:
			m.drain()
		case <-m.done:
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}
		batch := m.queue
		m.queue = nil
		obs := make([]Observer, len(m.observers))
		copy(obs, m.observers)
		m.mu.Unlock()

		for _, ev := range batch {
			if m.metrics != nil {
				m.metrics.RecordPlaybackEvent(context.Background(), ev.Kind.String(), string(ev.Reason))
			}
			for _, fn := range obs {
				fn(ev)
			}
		}
	}
}
