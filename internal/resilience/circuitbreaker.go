// Package resilience wraps backend providers with circuit breakers and
// ordered failover.
//
// A [Breaker] stops sending work to a provider after a run of consecutive
// failures and probes it again after a cool-down. A [Group] lines up several
// providers of the same kind, each behind its own breaker, and hands a call to
// the first one that accepts it. Nothing here retries the same provider: a
// failed call moves on to the next entry or returns.
//
// Cancellation is never a provider failure. A turn that is superseded cancels
// its context mid-request, which must not trip a breaker or fail over.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the cool-down ends.
	StateOpen

	// StateHalfOpen lets a bounded number of probe calls through.
	StateHalfOpen
)

// String returns the lower-case state name used in logs and metrics.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string

	// MaxFailures is the run of consecutive failures that opens the breaker.
	// Default: 5.
	MaxFailures int

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration

	// Probes is how many successful half-open calls close the breaker again.
	// Default: 1.
	Probes int

	// OnStateChange, when set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)
}

// Breaker is a three-state circuit breaker. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	inflight int
	passed   int
}

// NewBreaker returns a closed breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 1
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured label.
func (b *Breaker) Name() string { return b.cfg.Name }

// Do runs fn unless the breaker is open. Errors that only reflect ctx being
// cancelled or expired are passed through without being counted.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.settle(ctx, probe, err)
	return err
}

// admit decides whether a call may run and whether it counts as a probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		changed = b.moveLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.inflight+b.passed >= b.cfg.Probes {
			return false, ErrCircuitOpen
		}
		b.inflight++
		return true, nil
	}
	return false, nil
}

func (b *Breaker) settle(ctx context.Context, probe bool, err error) {
	b.mu.Lock()
	var changed func()
	defer func() {
		b.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if probe {
		b.inflight--
	}
	if err != nil && cancelled(ctx, err) {
		return
	}

	switch {
	case err == nil && probe:
		b.passed++
		if b.passed >= b.cfg.Probes && b.state == StateHalfOpen {
			changed = b.moveLocked(StateClosed)
		}
	case err == nil:
		b.failures = 0
	case probe:
		changed = b.moveLocked(StateOpen)
	default:
		b.failures++
		if b.failures >= b.cfg.MaxFailures && b.state == StateClosed {
			changed = b.moveLocked(StateOpen)
		}
	}
}

// moveLocked switches state and returns the notification to run after the
// lock is dropped.
func (b *Breaker) moveLocked(to State) func() {
	from := b.state
	if from == to {
		return nil
	}
	b.state = to
	b.passed = 0
	switch to {
	case StateOpen:
		b.openedAt = b.now()
		slog.Warn("resilience: circuit opened", "name", b.cfg.Name, "failures", b.failures)
	case StateClosed:
		b.failures = 0
		slog.Info("resilience: circuit closed", "name", b.cfg.Name)
	case StateHalfOpen:
		slog.Info("resilience: circuit half-open", "name", b.cfg.Name)
	}
	if b.cfg.OnStateChange == nil {
		return nil
	}
	name, hook := b.cfg.Name, b.cfg.OnStateChange
	return func() { hook(name, from, to) }
}

// State reports the current state. An open breaker whose cool-down has ended
// reports half-open; the switch itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	changed := b.moveLocked(StateClosed)
	b.failures = 0
	b.mu.Unlock()
	if changed != nil {
		changed()
	}
}

func cancelled(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ctx.Err() != nil
	}
	return false
}
