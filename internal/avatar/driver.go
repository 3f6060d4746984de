package avatar

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/voxpersona/voxpersona/internal/observe"
	"github.com/voxpersona/voxpersona/internal/turn"
)

const defaultBreathInterval = 200 * time.Millisecond

// DriverOption configures a [Driver].
type DriverOption func(*Driver)

// WithLoader sets the asset loader. Default: [NopLoader].
func WithLoader(l AssetLoader) DriverOption {
	return func(d *Driver) { d.loader = l }
}

// WithOnFrame registers the frame sink. It is called from the caller of
// the mutating methods and from the Run goroutine, never concurrently.
func WithOnFrame(fn func(Frame)) DriverOption {
	return func(d *Driver) { d.onFrame = fn }
}

// WithOnError registers the sink for non-fatal asset errors.
func WithOnError(fn func(error)) DriverOption {
	return func(d *Driver) { d.onError = fn }
}

// WithMetrics counts asset failures on m.
func WithMetrics(m *observe.Metrics) DriverOption {
	return func(d *Driver) { d.metrics = m }
}

// WithRand replaces the blink jitter source, for tests.
func WithRand(fn func() float64) DriverOption {
	return func(d *Driver) { d.rand = fn }
}

// WithBreathInterval sets how often a breathing frame is emitted.
func WithBreathInterval(iv time.Duration) DriverOption {
	return func(d *Driver) {
		if iv > 0 {
			d.breath = iv
		}
	}
}

// Driver animates the avatar for one view. Feed it turn states, the
// utterance and playback positions; it emits frames. It never touches
// playback or the turn machine.
type Driver struct {
	loader  AssetLoader
	onFrame func(Frame)
	onError func(error)
	metrics *observe.Metrics
	rand    func() float64
	breath  time.Duration
	now     func() time.Time

	mu         sync.Mutex
	policy     Policy
	state      turn.State
	utter      *Utterance
	anchorPos  time.Duration
	anchorAt   time.Time
	playing    bool
	eyesClosed bool
	badge      string
	born       time.Time
	assets     map[string]error

	// emit serializes onFrame calls.
	emit sync.Mutex

	wake chan struct{}
}

// NewDriver returns a Driver in the idle pose.
func NewDriver(p Policy, opts ...DriverOption) *Driver {
	d := &Driver{
		loader: NopLoader{},
		rand:   rand.Float64,
		breath: defaultBreathInterval,
		now:    time.Now,
		policy: p,
		assets: make(map[string]error),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(d)
	}
	d.born = d.now()
	return d
}

// SetPolicy swaps the animation constants. The current utterance keeps
// the pose it started with.
func (d *Driver) SetPolicy(p Policy) {
	d.mu.Lock()
	d.policy = p
	d.assets = make(map[string]error)
	d.mu.Unlock()
	d.poke()
}

// SetBadge sets the personality badge shown on every frame.
func (d *Driver) SetBadge(name string) {
	d.mu.Lock()
	d.badge = name
	d.mu.Unlock()
	d.publish()
}

// SetState records the turn state. Leaving Speaking drops the utterance,
// which closes the mouth.
func (d *Driver) SetState(s turn.State) {
	d.mu.Lock()
	d.state = s
	if s != turn.Speaking {
		d.utter = nil
		d.playing = false
		d.anchorPos = 0
	}
	d.mu.Unlock()
	d.poke()
	d.publish()
}

// BeginUtterance fixes the pose and mouth rate for text. duration is the
// audio length, zero when unknown. While an utterance is active further
// calls return it unchanged.
func (d *Driver) BeginUtterance(text string, duration time.Duration) Utterance {
	d.mu.Lock()
	if d.utter != nil {
		u := *d.utter
		d.mu.Unlock()
		return u
	}
	u := NewUtterance(text, duration, d.policy)
	d.utter = &u
	d.anchorPos, d.anchorAt, d.playing = 0, d.now(), true
	// Reload assets for every utterance so a fixed file is picked up.
	d.assets = make(map[string]error)
	d.mu.Unlock()

	slog.Debug("avatar: utterance", "words", u.Words, "pose", u.Pose, "mouth_interval", u.MouthInterval)
	d.poke()
	d.publish()
	return u
}

// SetPosition anchors the mouth to the playback position. playing false
// freezes it, as when paused.
func (d *Driver) SetPosition(pos time.Duration, playing bool) {
	d.mu.Lock()
	d.anchorPos, d.anchorAt, d.playing = pos, d.now(), playing
	d.mu.Unlock()
	d.publish()
}

// Frame renders the current frame without emitting it.
func (d *Driver) Frame() Frame {
	f, _, _ := d.render()
	return f
}

func (d *Driver) position(now time.Time) time.Duration {
	if !d.playing {
		return d.anchorPos
	}
	return d.anchorPos + now.Sub(d.anchorAt)
}

// render builds the frame. A freshly failed asset load is returned along
// with the asset name so the caller can surface it.
func (d *Driver) render() (Frame, string, error) {
	d.mu.Lock()
	now := d.now()
	var u *Utterance
	if d.utter != nil {
		cp := *d.utter
		u = &cp
	}
	f := Project(d.state, u, d.position(now))
	f.EyesClosed = d.eyesClosed
	f.Scale = Breathing(now.Sub(d.born))
	f.Badge = d.badge
	assets := d.policy.Assets
	f.Asset = assets.For(f.Pose)

	if f.Pose == PoseIdle {
		d.mu.Unlock()
		return f, "", nil
	}
	err, cached := d.assets[f.Asset]
	d.mu.Unlock()

	var (
		report error
		failed = f.Asset
	)
	if !cached {
		err = d.loader.Load(f.Asset)
		d.mu.Lock()
		d.assets[f.Asset] = err
		d.mu.Unlock()
		if err != nil {
			report = fmt.Errorf("%w: %s: %w", ErrAssetLoad, f.Asset, err)
		}
	}
	if err != nil {
		f.Pose, f.PoseName, f.Asset = PoseIdle, PoseIdle.String(), assets.Idle
		f.AssetError = true
	}
	return f, failed, report
}

func (d *Driver) publish() {
	d.emit.Lock()
	defer d.emit.Unlock()
	f, asset, err := d.render()
	if err != nil {
		slog.Warn("avatar: asset unavailable, showing idle pose", "err", err)
		if d.metrics != nil {
			d.metrics.RecordAssetError(context.Background(), asset)
		}
		if d.onError != nil {
			d.onError(err)
		}
	}
	if d.onFrame != nil {
		d.onFrame(f)
	}
}

func (d *Driver) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) nextBlink() time.Duration {
	d.mu.Lock()
	p := d.policy
	d.mu.Unlock()
	jitter := time.Duration((d.rand()*2 - 1) * float64(p.BlinkJitter))
	return max(p.BlinkInterval+jitter, p.BlinkDuration+time.Millisecond)
}

func (d *Driver) mouthInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != turn.Speaking || d.utter == nil {
		return 0
	}
	return d.utter.MouthInterval
}

// Run drives blinking, breathing and the mouth until ctx is done. Blinks
// happen in every state. It always returns nil.
func (d *Driver) Run(ctx context.Context) error {
	blink := time.NewTimer(d.nextBlink())
	defer blink.Stop()
	unblink := time.NewTimer(time.Hour)
	unblink.Stop()
	defer unblink.Stop()
	breath := time.NewTicker(d.breath)
	defer breath.Stop()
	mouth := time.NewTicker(time.Hour)
	mouth.Stop()
	defer mouth.Stop()

	d.publish()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-blink.C:
			d.mu.Lock()
			d.eyesClosed = true
			dur := d.policy.BlinkDuration
			d.mu.Unlock()
			unblink.Reset(dur)
			blink.Reset(d.nextBlink())
			d.publish()
		case <-unblink.C:
			d.mu.Lock()
			d.eyesClosed = false
			d.mu.Unlock()
			d.publish()
		case <-d.wake:
			if iv := d.mouthInterval(); iv > 0 {
				mouth.Reset(iv)
			} else {
				mouth.Stop()
			}
		case <-mouth.C:
			d.publish()
		case <-breath.C:
			d.publish()
		}
	}
}
