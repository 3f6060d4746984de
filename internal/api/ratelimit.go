package api

import (
	"sync"
	"time"
)

// window is a global sliding-window limiter: at most limit admissions in
// any span of length size. A limit of zero or less admits everything.
type window struct {
	mu     sync.Mutex
	limit  int
	size   time.Duration
	now    func() time.Time
	stamps []time.Time
}

func newWindow(limit int, size time.Duration, now func() time.Time) *window {
	if now == nil {
		now = time.Now
	}
	return &window{limit: limit, size: size, now: now}
}

// Allow records an admission and reports true, or reports false without
// recording when the window is full.
func (w *window) Allow() bool {
	if w.limit <= 0 {
		return true
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-w.size)
	keep := 0
	for _, ts := range w.stamps {
		if ts.After(cutoff) {
			w.stamps[keep] = ts
			keep++
		}
	}
	w.stamps = w.stamps[:keep]

	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}
