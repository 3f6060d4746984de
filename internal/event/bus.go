// Package event provides a typed fan-out bus for session notifications.
//
// Publishers never block: a subscriber that falls behind loses events,
// which is acceptable for the UI streams the bus carries (levels, avatar
// frames, state). Ordering per subscriber follows publish order.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the session.
const (
	TypeState        = "state"
	TypeLevel        = "level"
	TypeElapsed      = "elapsed"
	TypeAvatar       = "avatar"
	TypeConversation = "conversation"
	TypePlayback     = "playback"
	TypeVoices       = "voices"
	TypePersona      = "persona"
	TypeError        = "error"
)

// Event is one notification. Payload's concrete type depends on Type.
type Event struct {
	Type    string
	At      time.Time
	Payload any
}

// Bus fans values of T out to every subscriber.
type Bus[T any] struct {
	mu      sync.RWMutex
	subs    map[chan T]struct{}
	closed  bool
	dropped atomic.Int64
}

// NewBus returns an empty Bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel with the given buffer and the function that
// unsubscribes it. The channel is closed on unsubscribe or [Bus.Close].
func (b *Bus[T]) Subscribe(buffer int) (<-chan T, func()) {
	ch := make(chan T, max(buffer, 1))
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[ch] = struct{}{}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[ch]; ok {
				delete(b.subs, ch)
				close(ch)
			}
		})
	}
}

// Publish delivers v to every subscriber with room in its buffer.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Debug("event: slow subscriber, dropping", "dropped", n)
			}
		}
	}
}

// Dropped reports how many deliveries were skipped for full buffers.
func (b *Bus[T]) Dropped() int64 { return b.dropped.Load() }

// Subscribers reports the current subscriber count.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
