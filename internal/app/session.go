package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/voxpersona/voxpersona/internal/avatar"
	"github.com/voxpersona/voxpersona/internal/capture"
	"github.com/voxpersona/voxpersona/internal/collab"
	"github.com/voxpersona/voxpersona/internal/config"
	"github.com/voxpersona/voxpersona/internal/conversation"
	"github.com/voxpersona/voxpersona/internal/event"
	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/internal/persona"
	"github.com/voxpersona/voxpersona/internal/playback"
	"github.com/voxpersona/voxpersona/internal/turn"
	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/types"
)

// Turn kinds, used as a metric attribute.
const (
	kindVoice = "voice"
	kindText  = "text"
)

// ErrUnknownPreset is returned by [Session.SetPreset] for a name that is not
// a built-in personality.
var ErrUnknownPreset = errors.New("app: unknown personality preset")

// Collaborator is the remote side of a turn. *collab.Client implements it.
type Collaborator interface {
	Transcribe(ctx context.Context, clip audio.Clip) (string, error)
	Chat(ctx context.Context, req collab.ChatRequest) (collab.ChatReply, error)
	GenerateVoice(ctx context.Context, text, voiceID string) (audio.Clip, error)
	Voices(ctx context.Context) ([]types.VoiceProfile, error)
}

var _ Collaborator = (*collab.Client)(nil)

// SessionConfig holds the dependencies of a [Session].
type SessionConfig struct {
	Microphone   audio.Microphone
	Player       audio.Player
	Collaborator Collaborator

	// Config supplies the audio, avatar, persona and backend sections. Nil
	// uses [config.Default].
	Config *config.Config

	// Bus receives every UI notification. Nil creates a private bus.
	Bus *event.Bus[event.Event]

	Metrics *observe.Metrics
	Loader  avatar.AssetLoader

	// Extra options appended after the ones derived from Config.
	CaptureOptions []capture.Option
	AvatarOptions  []avatar.DriverOption
}

// Session is one user's conversation with the persona. It owns the turn
// machine, the capture engine, the playback manager and the avatar driver,
// and serializes user operations and playback callbacks under one mutex.
// All exported methods are safe for concurrent use.
type Session struct {
	mu sync.Mutex

	machine  *turn.Machine
	capture  *capture.Engine
	playback *playback.Manager
	avatar   *avatar.Driver
	conv     *conversation.Conversation
	collab   Collaborator
	bus      *event.Bus[event.Event]
	metrics  *observe.Metrics

	synthesis config.SynthesisMode
	voiceID   string
	voices    []types.VoiceProfile
	preset    string
	custom    string

	// seq identifies the current turn. Every preemption bumps it, and
	// results tagged with an older seq are dropped.
	seq        uint64
	cancelTurn context.CancelFunc

	// speakingID is the playback session of the Speaking state.
	speakingID string

	// stopping is closed when an in-flight capture Stop returns.
	stopping chan struct{}

	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession wires a Session. It starts the playback dispatcher; call
// [Session.Close] to stop it.
func NewSession(cfg SessionConfig) (*Session, error) {
	var errs []error
	if cfg.Microphone == nil {
		errs = append(errs, errors.New("microphone is required"))
	}
	if cfg.Player == nil {
		errs = append(errs, errors.New("player is required"))
	}
	if cfg.Collaborator == nil {
		errs = append(errs, errors.New("collaborator is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("app: new session: %w", err)
	}

	c := cfg.Config
	if c == nil {
		c = config.Default()
	}
	s := &Session{
		machine:   turn.New(),
		conv:      conversation.New(),
		collab:    cfg.Collaborator,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
		synthesis: c.Backend.Synthesis,
		voiceID:   c.Persona.VoiceID,
		preset:    c.Persona.Preset,
		custom:    c.Persona.Personality,
	}
	if s.bus == nil {
		s.bus = event.NewBus[event.Event]()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	capOpts := []capture.Option{
		capture.WithSampleInterval(c.Audio.SampleInterval),
		capture.WithBars(c.Audio.Bars),
		capture.WithTarget(audio.Format{SampleRate: c.Audio.SampleRate, Channels: c.Audio.Channels}),
		capture.WithOnLevel(func(l capture.Level) { s.publish(event.TypeLevel, l) }),
		capture.WithOnElapsed(func(sec int) {
			s.publish(event.TypeElapsed, ElapsedPayload{Seconds: sec, Text: capture.FormatElapsed(sec)})
		}),
		capture.WithOnError(func(err error) { go s.captureFailed(err) }),
		capture.WithMetrics(s.metrics),
	}
	s.capture = capture.New(cfg.Microphone, append(capOpts, cfg.CaptureOptions...)...)

	s.playback = playback.New(cfg.Player,
		playback.WithMetrics(s.metrics),
		playback.WithObserver(s.onPlayback),
	)

	loader := cfg.Loader
	if loader == nil {
		loader = avatar.NopLoader{}
	}
	avOpts := []avatar.DriverOption{
		avatar.WithLoader(loader),
		avatar.WithOnFrame(func(f avatar.Frame) { s.publish(event.TypeAvatar, f) }),
		avatar.WithOnError(func(err error) { s.publish(event.TypeError, errorPayload(err)) }),
		avatar.WithMetrics(s.metrics),
	}
	s.avatar = avatar.NewDriver(PolicyFrom(c.Avatar), append(avOpts, cfg.AvatarOptions...)...)
	s.avatar.SetBadge(badgeFor(persona.Resolve(s.preset, s.custom)))

	s.machine.Observe(s.onTransition)
	return s, nil
}

// PolicyFrom converts the avatar config section to an animation policy.
func PolicyFrom(c config.AvatarConfig) avatar.Policy {
	return avatar.Policy{
		LongFormWords: c.LongFormWords,
		BlinkInterval: c.BlinkInterval,
		BlinkJitter:   c.BlinkJitter,
		BlinkDuration: c.BlinkDuration,
		SpeechRate:    c.SpeechRate,
		MouthMin:      c.MouthMin,
		MouthMax:      c.MouthMax,
		Assets: avatar.Assets{
			Idle:        c.Assets.Idle,
			Talking:     c.Assets.Talking,
			TalkingLong: c.Assets.TalkingLong,
		},
	}
}

func badgeFor(personality string) string {
	name := persona.Classify(personality)
	return strings.ToUpper(name[:1]) + name[1:]
}

// Run animates the avatar until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	return s.avatar.Run(ctx)
}

// Bus returns the notification bus.
func (s *Session) Bus() *event.Bus[event.Event] { return s.bus }

// State returns the current turn state.
func (s *Session) State() turn.State { return s.machine.State() }

// Turns returns the conversation so far.
func (s *Session) Turns() []conversation.Turn { return s.conv.Turns() }

// Frame renders the current avatar frame.
func (s *Session) Frame() avatar.Frame { return s.avatar.Frame() }

// ─── Listening ───────────────────────────────────────────────────────────────

// StartListening starts a new recording. Active playback, an in-flight
// pipeline and any recording are torn down first; playback is released
// before the microphone is requested. Calling it while already Listening
// does nothing.
func (s *Session) StartListening(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.machine.State() == turn.Listening {
		s.mu.Unlock()
		return nil
	}
	s.teardownLocked()
	seq := s.seq
	if err := s.machine.Transition(turn.Listening, nil); err != nil {
		s.mu.Unlock()
		return err
	}
	wait := s.stopping
	s.mu.Unlock()

	// A recording being encoded for the previous turn finishes first.
	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
		}
	}

	err := s.capture.Start(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, capture.ErrCancelled) {
		slog.Debug("app: microphone request abandoned", "seq", seq)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != seq || s.closed {
		return nil
	}
	if ctx.Err() != nil {
		_ = s.machine.Reset()
		return err
	}
	s.failLocked(err, kindVoice)
	return err
}

// StopListening finalizes the recording and runs the turn pipeline in the
// background. Outside Listening it does nothing.
func (s *Session) StopListening(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.machine.State() != turn.Listening {
		s.mu.Unlock()
		return nil
	}
	seq := s.seq
	turnCtx, cancel := context.WithCancel(s.ctx)
	s.cancelTurn = cancel
	stopped := make(chan struct{})
	s.stopping = stopped
	if err := s.machine.Transition(turn.Thinking, nil); err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.mu.Unlock()

	clip, err := s.capture.Stop(ctx)
	close(stopped)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping == stopped {
		s.stopping = nil
	}
	if s.seq != seq || s.closed {
		cancel()
		return nil
	}
	if err != nil {
		cancel()
		s.cancelTurn = nil
		s.failLocked(err, kindVoice)
		return err
	}
	if clip.Empty() {
		// Stopped before the microphone opened: abandon the request.
		cancel()
		s.cancelTurn = nil
		s.capture.Cancel()
		s.metrics.RecordTurn(ctx, "cancelled", kindVoice)
		return s.machine.Transition(turn.Idle, nil)
	}
	s.spawnLocked(turnCtx, cancel, kindVoice, "", clip)
	return nil
}

// ToggleListening stops an active recording or starts a new one.
func (s *Session) ToggleListening(ctx context.Context) error {
	if s.machine.State() == turn.Listening {
		return s.StopListening(ctx)
	}
	return s.StartListening(ctx)
}

// captureFailed handles the microphone dropping mid-recording.
func (s *Session) captureFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.machine.State() != turn.Listening {
		return
	}
	switch s.capture.Status() {
	case capture.StatusRequesting, capture.StatusRecording:
		// A newer recording already replaced the failed one.
		return
	}
	s.failLocked(err, kindVoice)
}

// ─── Typed path ──────────────────────────────────────────────────────────────

// Send starts a turn from typed text. A recording or playback in progress is
// torn down first.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.teardownLocked()
	turnCtx, cancel := context.WithCancel(s.ctx)
	s.cancelTurn = cancel
	if err := s.machine.Transition(turn.Thinking, nil); err != nil {
		cancel()
		return err
	}
	s.spawnLocked(turnCtx, cancel, kindText, text, audio.Clip{})
	return nil
}

// ─── Pipeline ────────────────────────────────────────────────────────────────

// pipelineRequest is a snapshot of everything a turn needs, taken under
// the session lock when the turn enters Thinking.
type pipelineRequest struct {
	seq         uint64
	kind        string
	text        string
	clip        audio.Clip
	history     []types.Message
	personality string
	voiceID     string
	synthesis   config.SynthesisMode
	started     time.Time
}

func (s *Session) spawnLocked(ctx context.Context, cancel context.CancelFunc, kind, text string, clip audio.Clip) {
	req := pipelineRequest{
		seq:         s.seq,
		kind:        kind,
		text:        text,
		clip:        clip,
		history:     s.conv.History(),
		personality: persona.Resolve(s.preset, s.custom),
		voiceID:     s.voiceID,
		synthesis:   s.synthesis,
		started:     time.Now(),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.runPipeline(ctx, req)
	}()
}

// runPipeline transcribes, chats and synthesizes in order. Each stage's
// failure maps to its own sentinel.
func (s *Session) runPipeline(ctx context.Context, req pipelineRequest) {
	text := req.text
	if !req.clip.Empty() {
		sctx, done := s.metrics.Stage(ctx, observe.StageTranscribe)
		transcript, err := s.collab.Transcribe(sctx, req.clip)
		if err == nil && strings.TrimSpace(transcript) == "" {
			err = errors.New("no speech detected")
		}
		done(err)
		if err != nil {
			s.abort(req, fmt.Errorf("%w: %w", ErrTranscriptionFailed, err))
			return
		}
		text = strings.TrimSpace(transcript)
	}

	sctx, done := s.metrics.Stage(ctx, observe.StageChat, observe.Attr("personality", persona.Classify(req.personality)))
	reply, err := s.collab.Chat(sctx, collab.ChatRequest{
		Message:             text,
		VoiceID:             req.voiceID,
		ConversationHistory: req.history,
		Personality:         req.personality,
	})
	done(err)
	if err != nil {
		s.abort(req, fmt.Errorf("%w: %w", ErrChatFailed, err))
		return
	}

	voice := reply.Audio
	if req.synthesis == config.SynthesisSeparate || voice.Empty() {
		sctx, done := s.metrics.Stage(ctx, observe.StageSynthesis)
		voice, err = s.collab.GenerateVoice(sctx, reply.Text, req.voiceID)
		done(err)
		if err != nil {
			s.abort(req, fmt.Errorf("%w: %w", ErrSynthesisFailed, err))
			return
		}
	}
	s.deliver(ctx, req, text, reply.Text, voice)
}

func (s *Session) abort(req pipelineRequest, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != req.seq || s.closed {
		slog.Debug("app: superseded turn failed", "seq", req.seq, "err", err)
		return
	}
	s.cancelTurn = nil
	s.failLocked(err, req.kind)
}

// deliver appends the exchange and starts speaking it. The clip is loaded
// without the session lock so a preemption can cancel the load through ctx.
func (s *Session) deliver(ctx context.Context, req pipelineRequest, userText, replyText string, clip audio.Clip) {
	s.mu.Lock()
	if s.seq != req.seq || s.closed {
		s.mu.Unlock()
		slog.Debug("app: discarding superseded reply", "seq", req.seq)
		return
	}
	s.conv.AppendExchange(userText, replyText, clip)
	s.publishConversationLocked()
	s.mu.Unlock()

	id, err := s.playback.Play(ctx, clip, replyText)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seq != req.seq || s.closed {
		if err == nil {
			s.playback.StopSession(id)
		}
		slog.Debug("app: discarding superseded playback", "seq", req.seq)
		return
	}
	s.cancelTurn = nil
	if err != nil {
		slog.Warn("app: playback failed", "seq", req.seq, "err", err)
		s.metrics.RecordTurn(s.ctx, ErrorKind(err), req.kind)
		s.publish(event.TypeError, errorPayload(err))
		_ = s.machine.Transition(turn.Idle, nil)
		return
	}

	var dur time.Duration
	info, active := s.playback.Active()
	active = active && info.ID == id
	if active {
		dur = info.Duration
		s.speakingID = id
	}
	u := s.avatar.BeginUtterance(replyText, dur)
	if err := s.machine.Transition(turn.Speaking, nil); err != nil {
		slog.Error("app: enter speaking", "err", err)
	}
	s.metrics.RecordTurn(s.ctx, "completed", req.kind)
	slog.Info("app: speaking",
		"seq", req.seq,
		"kind", req.kind,
		"words", u.Words,
		"pose", u.Pose,
		"latency", time.Since(req.started),
	)
	if !active {
		// Ended before the lock was retaken; its events were ignored.
		_ = s.machine.Transition(turn.Idle, nil)
	}
}

// teardownLocked cancels the in-flight turn, stops playback and discards
// any recording, in that order.
func (s *Session) teardownLocked() {
	s.seq++
	if s.cancelTurn != nil {
		s.cancelTurn()
		s.cancelTurn = nil
	}
	s.speakingID = ""
	s.playback.Stop()
	s.capture.Cancel()
}

// failLocked moves through Errored back to Idle.
func (s *Session) failLocked(err error, kind string) {
	slog.Warn("app: turn failed", "kind", ErrorKind(err), "err", err)
	s.metrics.RecordTurn(s.ctx, ErrorKind(err), kind)
	if ferr := s.machine.Fail(err); ferr != nil {
		slog.Error("app: fail turn", "err", ferr)
	}
}

// ─── Playback ────────────────────────────────────────────────────────────────

// Replay plays the audio of a past turn. It preempts a live reply, which
// ends Speaking.
func (s *Session) Replay(ctx context.Context, turnID string) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	t, ok := s.conv.Get(turnID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTurnNotFound, turnID)
	}
	if !t.HasAudio() {
		return ErrNoAudio
	}
	if _, err := s.playback.Replay(ctx, t.Audio()); err != nil {
		s.publish(event.TypeError, errorPayload(err))
		return err
	}
	return nil
}

// ReplayLast replays the latest assistant turn with audio.
func (s *Session) ReplayLast(ctx context.Context) error {
	t, ok := s.conv.LastAssistant()
	if !ok {
		return ErrNoAudio
	}
	return s.Replay(ctx, t.ID)
}

// Pause suspends the current utterance. The state stays Speaking.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback.Pause()
}

// Resume continues a paused utterance.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback.Resume()
}

// onPlayback runs on the playback dispatcher.
func (s *Session) onPlayback(ev playback.Event) {
	s.publish(event.TypePlayback, PlaybackPayload{
		SessionID:  ev.SessionID,
		Kind:       ev.Kind.String(),
		Reason:     string(ev.Reason),
		PositionMS: ev.Position.Milliseconds(),
		DurationMS: ev.Duration.Milliseconds(),
		Replay:     ev.Replay,
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.Replay || s.speakingID == "" || ev.SessionID != s.speakingID {
		return
	}
	switch ev.Kind {
	case playback.EventStarted, playback.EventResumed, playback.EventProgress:
		s.avatar.SetPosition(ev.Position, true)
	case playback.EventPaused:
		s.avatar.SetPosition(ev.Position, false)
	case playback.EventEnded, playback.EventErrored:
		s.speakingID = ""
		if ev.Err != nil {
			slog.Warn("app: playback errored", "session", ev.SessionID, "err", ev.Err)
			s.publish(event.TypeError, errorPayload(ev.Err))
		}
		if s.machine.State() == turn.Speaking {
			_ = s.machine.Transition(turn.Idle, nil)
		}
	}
}

// ─── Conversation, voice, persona ────────────────────────────────────────────

// Clear stops audio, cancels the in-flight turn, empties the conversation
// and returns to Idle.
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.teardownLocked()
	s.conv.Clear()
	if err := s.machine.Reset(); err != nil {
		return err
	}
	s.publishConversationLocked()
	return nil
}

// LoadVoices fetches the voice list. Without a configured voice the first
// listed one is selected.
func (s *Session) LoadVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	voices, err := s.collab.Voices(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load voices: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voices = voices
	if s.voiceID == "" && len(voices) > 0 {
		s.voiceID = voices[0].ID
	}
	s.publishVoicesLocked()
	return slices.Clone(voices), nil
}

// Voices returns the loaded voices and the selected voice ID.
func (s *Session) Voices() ([]types.VoiceProfile, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.voices), s.voiceID
}

// SelectVoice picks the synthesis voice for later turns. Once voices are
// loaded only listed IDs are accepted.
func (s *Session) SelectVoice(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.voices) > 0 && !slices.ContainsFunc(s.voices, func(v types.VoiceProfile) bool { return v.ID == id }) {
		return fmt.Errorf("%w: %q", ErrUnknownVoice, id)
	}
	s.voiceID = id
	s.publishVoicesLocked()
	return nil
}

// SetPersonality sets free-text personality. Empty text falls back to the
// selected preset.
func (s *Session) SetPersonality(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.custom = strings.TrimSpace(text)
	s.applyPersonaLocked()
}

// SetPreset selects a built-in personality and clears custom text.
func (s *Session) SetPreset(name string) error {
	if _, ok := persona.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset, s.custom = name, ""
	s.applyPersonaLocked()
	return nil
}

// CyclePreset moves to the next built-in personality and returns its name.
func (s *Session) CyclePreset() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset, s.custom = persona.Next(s.preset), ""
	s.applyPersonaLocked()
	return s.preset
}

// Personality returns the active personality text.
func (s *Session) Personality() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return persona.Resolve(s.preset, s.custom)
}

func (s *Session) applyPersonaLocked() {
	text := persona.Resolve(s.preset, s.custom)
	badge := badgeFor(text)
	s.avatar.SetBadge(badge)
	s.publish(event.TypePersona, PersonaPayload{Preset: s.preset, Personality: text, Badge: badge})
}

// Apply takes over hot-reloaded avatar and persona settings. The current
// utterance keeps its pose.
func (s *Session) Apply(c config.Changes) {
	if c.AvatarChanged {
		s.avatar.SetPolicy(PolicyFrom(c.NewAvatar))
		slog.Info("app: avatar policy reloaded")
	}
	if c.PersonaChanged {
		s.mu.Lock()
		if c.NewPersona.VoiceID != "" {
			s.voiceID = c.NewPersona.VoiceID
			s.publishVoicesLocked()
		}
		s.preset, s.custom = c.NewPersona.Preset, c.NewPersona.Personality
		s.applyPersonaLocked()
		s.mu.Unlock()
		slog.Info("app: persona reloaded", "preset", c.NewPersona.Preset)
	}
}

// Announce republishes the full session state, for a newly attached view.
func (s *Session) Announce() {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.machine.State()
	s.publish(event.TypeState, StatePayload{State: st.String(), From: st.String(), Status: st.StatusText()})
	s.publishConversationLocked()
	s.publishVoicesLocked()
	text := persona.Resolve(s.preset, s.custom)
	s.publish(event.TypePersona, PersonaPayload{Preset: s.preset, Personality: text, Badge: badgeFor(text)})
	s.publish(event.TypeAvatar, s.avatar.Frame())
}

// ─── Lifecycle ───────────────────────────────────────────────────────────────

// Close tears down the session: the in-flight turn, playback and capture.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.teardownLocked()
	s.cancel()
	_ = s.machine.Reset()
	s.mu.Unlock()

	// The playback dispatcher may be waiting on the session lock, so the
	// manager is closed without holding it.
	s.wg.Wait()
	return errors.Join(s.capture.Close(), s.playback.Close())
}

// ─── Notifications ───────────────────────────────────────────────────────────

// onTransition runs synchronously inside machine transitions, usually with
// the session lock held; it must not take it.
func (s *Session) onTransition(tr turn.Transition) {
	s.avatar.SetState(tr.To)
	s.metrics.RecordTransition(s.ctx, tr.From.String(), tr.To.String())
	p := StatePayload{State: tr.To.String(), From: tr.From.String(), Status: tr.To.StatusText()}
	if tr.Err != nil {
		p.Error = ErrorKind(tr.Err)
	}
	s.publish(event.TypeState, p)
	if tr.To == turn.Errored && tr.Err != nil {
		s.publish(event.TypeError, errorPayload(tr.Err))
	}
	slog.Debug("app: transition", "from", tr.From, "to", tr.To)
}

func (s *Session) publishConversationLocked() {
	s.publish(event.TypeConversation, ConversationPayload{Turns: turnViews(s.conv.Turns())})
}

func (s *Session) publishVoicesLocked() {
	s.publish(event.TypeVoices, VoicesPayload{Voices: slices.Clone(s.voices), Selected: s.voiceID})
}

func (s *Session) publish(typ string, payload any) {
	s.bus.Publish(event.Event{Type: typ, At: time.Now(), Payload: payload})
}
