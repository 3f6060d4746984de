package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error when no entry of a [Group] succeeded.
var ErrAllFailed = errors.New("resilience: all providers failed")

// Group is an ordered list of providers of one kind, each behind its own
// [Breaker]. Entries are fixed after construction; Add is not safe to call
// concurrently with [Call].
type Group[T any] struct {
	cfg     BreakerConfig
	entries []entry[T]
}

type entry[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// NewGroup creates a group with primary as its first entry. cfg is the
// template for every entry's breaker; Name is replaced per entry.
func NewGroup[T any](primaryName string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(primaryName, primary)
	return g
}

// Add appends a fallback entry.
func (g *Group[T]) Add(name string, value T) {
	bc := g.cfg
	bc.Name = name
	g.entries = append(g.entries, entry[T]{name: name, value: value, breaker: NewBreaker(bc)})
}

// Names returns the entry names in order.
func (g *Group[T]) Names() []string {
	out := make([]string, len(g.entries))
	for i, e := range g.entries {
		out[i] = e.name
	}
	return out
}

// Primary returns the first entry.
func (g *Group[T]) Primary() T { return g.entries[0].value }

// Call runs fn against each entry in order and returns the first success.
// It stops early when ctx is done, returning ctx's error unwrapped so that
// callers can tell a superseded call from a failed one.
func Call[T, R any](ctx context.Context, g *Group[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, e := range g.entries {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		var out R
		err := e.breaker.Do(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, e.value)
			return err
		})
		if err == nil {
			return out, nil
		}
		if cancelled(ctx, err) {
			return zero, err
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping provider", "provider", e.name, "reason", "circuit open")
			continue
		}
		slog.Warn("resilience: provider failed", "provider", e.name, "err", err)
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
