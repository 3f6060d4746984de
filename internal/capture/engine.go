// Package capture records a single utterance from an [audio.Microphone],
// publishes live amplitude levels while recording, and finalizes the
// recording into an uploadable WAV clip.
//
// An [Engine] holds at most one recording at a time and is the only owner of
// the microphone handle it opens. The handle is closed on every exit path:
// Stop, Cancel, Close and device failure.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/pkg/audio"
)

// Capture failures. Acquisition errors also wrap the matching pkg/audio
// sentinel.
var (
	ErrPermissionDenied  = errors.New("capture: microphone permission denied")
	ErrDeviceUnavailable = errors.New("capture: microphone unavailable")
	ErrAudioProcessing   = errors.New("capture: audio processing failed")
	ErrBusy              = errors.New("capture: recording already in progress")
	ErrClosed            = errors.New("capture: engine closed")
	ErrCancelled         = errors.New("capture: cancelled")
)

// Status is the engine's recording state.
type Status int

const (
	StatusIdle Status = iota
	StatusRequesting
	StatusRecording
	StatusEncoding
	StatusFailed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequesting:
		return "requesting-permission"
	case StatusRecording:
		return "recording"
	case StatusEncoding:
		return "encoding"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Level is one visualization snapshot.
type Level struct {
	// Average is the mean frequency magnitude, 0..255.
	Average float64 `json:"average"`

	// Bars are display heights in pixels, one per visual bar.
	Bars []float64 `json:"bars"`

	// Elapsed is the whole seconds recorded so far.
	Elapsed int `json:"elapsed"`
}

// FormatElapsed renders seconds as m:ss.
func FormatElapsed(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// Option configures an [Engine].
type Option func(*Engine)

// WithSampleInterval sets how often levels are published. Default: 50ms.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.sampleInterval = d
		}
	}
}

// WithBars sets the number of visual bars per level. Default: 20.
func WithBars(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.bars = n
		}
	}
}

// WithTarget sets the format recordings are converted to before encoding.
// Default: 16 kHz mono.
func WithTarget(f audio.Format) Option {
	return func(e *Engine) {
		if f.SampleRate > 0 && f.Channels > 0 {
			e.target = f
		}
	}
}

// WithOnLevel registers the visualization callback. It runs on the
// sampling goroutine and must not block.
func WithOnLevel(fn func(Level)) Option {
	return func(e *Engine) { e.onLevel = fn }
}

// WithOnElapsed registers a callback for the once-a-second elapsed tick.
func WithOnElapsed(fn func(seconds int)) Option {
	return func(e *Engine) { e.onElapsed = fn }
}

// WithOnError registers a callback for failures that happen outside any
// call, i.e. the device dropping mid-recording.
func WithOnError(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

// WithMetrics records capture gauges and durations on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRand replaces the bar jitter source, for tests.
func WithRand(fn func() float64) Option {
	return func(e *Engine) { e.rand = fn }
}

// Engine records one utterance at a time. Safe for concurrent use.
type Engine struct {
	mic            audio.Microphone
	sampleInterval time.Duration
	bars           int
	target         audio.Format
	onLevel        func(Level)
	onElapsed      func(int)
	onError        func(error)
	metrics        *observe.Metrics
	rand           func() float64

	mu      sync.Mutex
	status  Status
	gen     uint64
	session *session
	closed  bool

	// dropErr is the device failure behind StatusFailed, until a Stop
	// reports it or the next Start clears it.
	dropErr error

	// acquiring is closed when the latest Open call has returned and any
	// abandoned handle from it has been closed.
	acquiring chan struct{}
}

// New returns an idle Engine recording from mic.
func New(mic audio.Microphone, opts ...Option) *Engine {
	e := &Engine{
		mic:            mic,
		sampleInterval: 50 * time.Millisecond,
		bars:           20,
		target:         audio.Format{SampleRate: 16000, Channels: 1},
		rand:           rand.Float64,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Status returns the current status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Start requests the microphone and begins recording. ctx bounds the
// acquisition only. Start is rejected with [ErrBusy] while another
// recording is being acquired, recorded or encoded.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	switch e.status {
	case StatusRequesting, StatusRecording, StatusEncoding:
		e.mu.Unlock()
		return ErrBusy
	}
	e.setStatusLocked(StatusRequesting)
	e.dropErr = nil
	e.gen++
	gen := e.gen
	prev := e.acquiring
	acquired := make(chan struct{})
	e.acquiring = acquired
	e.mu.Unlock()
	defer close(acquired)

	// A cancelled request may still be waiting on the device; never hold two
	// handles at once.
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			e.mu.Lock()
			if e.gen == gen {
				e.setStatusLocked(StatusIdle)
			}
			e.mu.Unlock()
			return ctx.Err()
		}
	}

	h, err := e.mic.Open(ctx)
	if err != nil {
		err = classifyOpenError(err)
		e.mu.Lock()
		if e.gen == gen {
			if ctx.Err() != nil {
				e.setStatusLocked(StatusIdle)
			} else {
				e.setStatusLocked(StatusFailed)
			}
		}
		e.mu.Unlock()
		return err
	}

	e.mu.Lock()
	if e.gen != gen || e.closed {
		// Cancelled while the permission prompt was up.
		e.mu.Unlock()
		if err := h.Close(); err != nil {
			slog.Warn("capture: close superseded microphone", "err", err)
		}
		return ErrCancelled
	}
	s := e.newSession(h)
	e.session = s
	e.setStatusLocked(StatusRecording)
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.ActiveCaptures.Add(context.Background(), 1)
	}
	s.run()
	slog.Debug("capture: recording", "format", fmt.Sprintf("%d Hz/%d ch", h.Format().SampleRate, h.Format().Channels))
	return nil
}

func classifyOpenError(err error) error {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
}

// Stop ends the recording and returns it as a WAV clip. When nothing is
// recording it returns an empty clip and nil, or the device error if the
// microphone dropped since the last Stop. Failures, an empty recording
// included, return [ErrAudioProcessing] and leave the engine in
// [StatusFailed]; the microphone is released either way.
func (e *Engine) Stop(ctx context.Context) (audio.Clip, error) {
	e.mu.Lock()
	if e.status == StatusFailed && e.dropErr != nil {
		err := e.dropErr
		e.dropErr = nil
		e.mu.Unlock()
		return audio.Clip{}, err
	}
	if e.status != StatusRecording || e.session == nil {
		e.mu.Unlock()
		return audio.Clip{}, nil
	}
	s := e.session
	e.setStatusLocked(StatusEncoding)
	e.mu.Unlock()

	s.halt()
	select {
	case <-s.drained:
	case <-ctx.Done():
		e.finish(s, StatusFailed)
		return audio.Clip{}, fmt.Errorf("%w: %w", ErrAudioProcessing, ctx.Err())
	}

	clip, err := s.finalize(e.target)
	if err != nil {
		e.finish(s, StatusFailed)
		return audio.Clip{}, err
	}
	e.finish(s, StatusIdle)
	if e.metrics != nil {
		e.metrics.CaptureDuration.Record(ctx, clip.Duration.Seconds())
	}
	slog.Debug("capture: finalized", "duration", clip.Duration, "bytes", len(clip.Data))
	return clip, nil
}

// Cancel discards any recording in progress without producing a clip. A
// pending microphone request is abandoned and its handle closed when it
// arrives. Safe to call at any time.
func (e *Engine) Cancel() {
	e.mu.Lock()
	var s *session
	switch e.status {
	case StatusRequesting:
		e.gen++
		e.setStatusLocked(StatusIdle)
	case StatusRecording:
		s = e.session
		e.session = nil
		e.setStatusLocked(StatusIdle)
	case StatusFailed:
		e.dropErr = nil
		e.setStatusLocked(StatusIdle)
	}
	e.mu.Unlock()

	if s != nil {
		s.halt()
		<-s.drained
		e.release()
		slog.Debug("capture: recording discarded")
	}
}

// Close cancels any recording and rejects later starts.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.Cancel()
	return nil
}

// finish retires s after Stop. Cancel may have raced and already done so.
func (e *Engine) finish(s *session, st Status) {
	e.mu.Lock()
	owned := e.session == s
	if owned {
		e.session = nil
		e.setStatusLocked(st)
	}
	e.mu.Unlock()
	if owned {
		e.release()
	}
}

// dropped handles the device ending the stream on its own.
func (e *Engine) dropped(s *session, cause error) {
	e.mu.Lock()
	if e.session != s || e.status != StatusRecording {
		e.mu.Unlock()
		return
	}
	err := fmt.Errorf("%w: %w", ErrDeviceUnavailable, cause)
	e.session = nil
	e.dropErr = err
	e.setStatusLocked(StatusFailed)
	e.mu.Unlock()

	s.halt()
	e.release()
	slog.Warn("capture: microphone stream ended", "err", cause)
	if e.onError != nil {
		e.onError(err)
	}
}

func (e *Engine) release() {
	if e.metrics != nil {
		e.metrics.ActiveCaptures.Add(context.Background(), -1)
	}
}

func (e *Engine) setStatusLocked(s Status) {
	if e.status != s {
		slog.Debug("capture: status", "from", e.status, "to", s)
	}
	e.status = s
}

// ─── session ─────────────────────────────────────────────────────────────────

// session is one recording: the open handle, its loops and the
// accumulated PCM.
type session struct {
	e      *Engine
	handle audio.InputHandle
	conv   *audio.Converter

	stop     chan struct{}
	stopOnce sync.Once
	loops    sync.WaitGroup
	drained  chan struct{}

	mu      sync.Mutex
	chunks  [][]byte
	window  []int16
	elapsed int
}

func (e *Engine) newSession(h audio.InputHandle) *session {
	return &session{
		e:       e,
		handle:  h,
		conv:    &audio.Converter{Target: e.target},
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
		window:  make([]int16, 0, fftSize),
	}
}

func (s *session) run() {
	s.loops.Add(2)
	go s.sample()
	go s.tick()
	go s.accumulate()
}

// halt stops the loops and closes the handle, which ends accumulate once
// the buffered frames are read. Safe to call more than once.
func (s *session) halt() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.loops.Wait()
		if err := s.handle.Close(); err != nil {
			slog.Warn("capture: close microphone", "err", err)
		}
	})
}

func (s *session) accumulate() {
	defer close(s.drained)
	for frame := range s.handle.Frames() {
		f := s.conv.Convert(frame)
		if len(f.Data) == 0 {
			continue
		}
		samples := audio.Samples16(f.Data)
		s.mu.Lock()
		s.chunks = append(s.chunks, f.Data)
		s.window = appendWindow(s.window, samples)
		s.mu.Unlock()
	}
	if err := s.handle.Err(); err != nil {
		go s.e.dropped(s, err)
	}
}

// appendWindow keeps the last fftSize samples.
func appendWindow(w []int16, samples []int16) []int16 {
	if len(samples) >= fftSize {
		return append(w[:0], samples[len(samples)-fftSize:]...)
	}
	if over := len(w) + len(samples) - fftSize; over > 0 {
		w = append(w[:0], w[over:]...)
	}
	return append(w, samples...)
}

func (s *session) sample() {
	defer s.loops.Done()
	t := time.NewTicker(s.e.sampleInterval)
	defer t.Stop()
	a := newAnalyser()
	window := make([]int16, 0, fftSize)
	bins := make([]uint8, fftSize/2)
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		s.mu.Lock()
		window = append(window[:0], s.window...)
		elapsed := s.elapsed
		s.mu.Unlock()

		a.frequencyData(window, bins)
		if s.e.onLevel != nil {
			s.e.onLevel(s.e.level(average(bins), elapsed))
		}
	}
}

func (e *Engine) level(avg float64, elapsed int) Level {
	bars := make([]float64, e.bars)
	for i := range bars {
		bars[i] = max(5, avg/255*50*e.rand())
	}
	return Level{Average: avg, Bars: bars, Elapsed: elapsed}
}

func (s *session) tick() {
	defer s.loops.Done()
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
		}
		s.mu.Lock()
		s.elapsed++
		n := s.elapsed
		s.mu.Unlock()
		if s.e.onElapsed != nil {
			s.e.onElapsed(n)
		}
	}
}

func (s *session) finalize(f audio.Format) (audio.Clip, error) {
	s.mu.Lock()
	pcm := bytes.Join(s.chunks, nil)
	s.chunks = nil
	s.mu.Unlock()
	if len(pcm) == 0 {
		return audio.Clip{}, fmt.Errorf("%w: empty recording", ErrAudioProcessing)
	}
	return audio.WAVClip(pcm, f), nil
}
