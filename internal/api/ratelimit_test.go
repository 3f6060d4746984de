package api

import (
	"testing"
	"time"
)

func TestWindow_SlidesOverOneMinute(t *testing.T) {
	t.Parallel()
	now := time.Unix(1_700_000_000, 0)
	w := newWindow(3, time.Minute, func() time.Time { return now })

	for i := range 3 {
		if !w.Allow() {
			t.Fatalf("request %d rejected", i)
		}
		now = now.Add(10 * time.Second)
	}
	if w.Allow() {
		t.Fatal("fourth request inside the window admitted")
	}

	// The first stamp leaves the window 60s after it was taken.
	now = time.Unix(1_700_000_000, 0).Add(time.Minute + time.Millisecond)
	if !w.Allow() {
		t.Fatal("request after the oldest stamp expired rejected")
	}
	if w.Allow() {
		t.Fatal("window should be full again")
	}
}

func TestWindow_RejectedRequestsAreNotCounted(t *testing.T) {
	t.Parallel()
	now := time.Unix(0, 0)
	w := newWindow(1, time.Minute, func() time.Time { return now })
	if !w.Allow() {
		t.Fatal("first request rejected")
	}
	for range 5 {
		now = now.Add(time.Second)
		w.Allow()
	}
	now = time.Unix(0, 0).Add(time.Minute + time.Second)
	if !w.Allow() {
		t.Fatal("rejected requests kept the window full")
	}
}

func TestWindow_NoLimit(t *testing.T) {
	t.Parallel()
	w := newWindow(0, time.Minute, nil)
	for range 100 {
		if !w.Allow() {
			t.Fatal("unlimited window rejected a request")
		}
	}
}
