package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/audio/mock"
)

func tone(n int) []byte {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(12000 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return audio.PCM16(s)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestStartStop_ProducesWAV(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	ctx := context.Background()

	if err := e.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.Status() != StatusRecording {
		t.Fatalf("status = %s", e.Status())
	}
	h := mic.Last()
	h.Push(tone(1600))
	h.Push(tone(1600))

	clip, err := e.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if clip.MIMEType != audio.MIMETypeWAV {
		t.Errorf("mime = %q", clip.MIMEType)
	}
	pcm, f, err := audio.DecodeWAV(clip.Data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f != (audio.Format{SampleRate: 16000, Channels: 1}) || len(pcm) != 6400 {
		t.Errorf("format %+v, %d bytes", f, len(pcm))
	}
	if clip.Duration != 200*time.Millisecond {
		t.Errorf("duration = %v", clip.Duration)
	}
	if !h.Closed() || h.Closes() != 1 {
		t.Errorf("handle closed=%v closes=%d, want exactly one close", h.Closed(), h.Closes())
	}
	if e.Status() != StatusIdle {
		t.Errorf("status = %s, want idle", e.Status())
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	ctx := context.Background()

	clip, err := e.Stop(ctx)
	if err != nil || !clip.Empty() {
		t.Fatalf("Stop while idle = %v, %v", clip, err)
	}

	_ = e.Start(ctx)
	mic.Last().Push(tone(320))
	if _, err := e.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	clip, err = e.Stop(ctx)
	if err != nil || !clip.Empty() {
		t.Fatalf("second Stop = %v, %v", clip, err)
	}
	if got := mic.Last().Closes(); got != 1 {
		t.Errorf("closes = %d, want 1", got)
	}
}

func TestStart_AcquisitionErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		openErr error
		want    error
		also    error
	}{
		{"denied", fmt.Errorf("browser: %w", audio.ErrPermissionDenied), ErrPermissionDenied, audio.ErrPermissionDenied},
		{"no device", fmt.Errorf("browser: %w", audio.ErrDeviceUnavailable), ErrDeviceUnavailable, audio.ErrDeviceUnavailable},
		{"other", errors.New("driver crashed"), ErrDeviceUnavailable, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mic := &mock.Microphone{OpenErr: tt.openErr}
			e := New(mic)
			err := e.Start(context.Background())
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if tt.also != nil && !errors.Is(err, tt.also) {
				t.Errorf("err = %v, should also match %v", err, tt.also)
			}
			if e.Status() != StatusFailed {
				t.Errorf("status = %s, want failed", e.Status())
			}
			if mic.OpenCount() != 0 {
				t.Error("no handle should be open")
			}
		})
	}
}

func TestStart_AfterFailureResets(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{OpenErr: audio.ErrPermissionDenied}
	e := New(mic)
	_ = e.Start(context.Background())

	mic.OpenErr = nil
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start after failure: %v", err)
	}
	if e.Status() != StatusRecording {
		t.Errorf("status = %s", e.Status())
	}
	e.Cancel()
}

func TestStart_Busy(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer e.Cancel()
	if err := e.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if mic.MaxOpen() != 1 {
		t.Errorf("MaxOpen = %d", mic.MaxOpen())
	}
}

func TestStop_EmptyRecording(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	_ = e.Start(context.Background())

	_, err := e.Stop(context.Background())
	if !errors.Is(err, ErrAudioProcessing) {
		t.Fatalf("err = %v, want ErrAudioProcessing", err)
	}
	if !mic.Last().Closed() {
		t.Error("handle must be released on processing failure")
	}
	if e.Status() != StatusFailed {
		t.Errorf("status = %s, want failed", e.Status())
	}
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start after failed: %v", err)
	}
	e.Cancel()
}

func TestCancel_ReleasesWithoutClip(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	_ = e.Start(context.Background())
	mic.Last().Push(tone(320))

	e.Cancel()
	if !mic.Last().Closed() || mic.OpenCount() != 0 {
		t.Fatal("Cancel must release the microphone")
	}
	if e.Status() != StatusIdle {
		t.Errorf("status = %s", e.Status())
	}
	clip, err := e.Stop(context.Background())
	if err != nil || !clip.Empty() {
		t.Errorf("Stop after Cancel = %v, %v", clip, err)
	}
	e.Cancel()
}

func TestCancel_DuringPermissionPrompt(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	mic := &mock.Microphone{Gate: gate}
	e := New(mic)

	errc := make(chan error, 1)
	go func() { errc <- e.Start(context.Background()) }()
	waitUntil(t, func() bool { return e.Status() == StatusRequesting })

	e.Cancel()
	close(gate)
	if err := <-errc; !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if mic.OpenCount() != 0 {
		t.Fatal("abandoned handle must be closed")
	}
	if e.Status() != StatusIdle {
		t.Errorf("status = %s", e.Status())
	}
}

func TestStart_WaitsForAbandonedAcquisition(t *testing.T) {
	t.Parallel()
	gate := make(chan struct{})
	mic := &mock.Microphone{Gate: gate}
	e := New(mic)

	first := make(chan error, 1)
	go func() { first <- e.Start(context.Background()) }()
	waitUntil(t, func() bool { return e.Status() == StatusRequesting })
	e.Cancel()

	second := make(chan error, 1)
	go func() { second <- e.Start(context.Background()) }()
	waitUntil(t, func() bool { return e.Status() == StatusRequesting })
	close(gate)

	if err := <-first; !errors.Is(err, ErrCancelled) {
		t.Fatalf("first = %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second = %v", err)
	}
	if mic.MaxOpen() != 1 {
		t.Errorf("MaxOpen = %d, want 1", mic.MaxOpen())
	}
	e.Cancel()
}

func TestLevelsPublished(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		levels []Level
	)
	mic := &mock.Microphone{}
	e := New(mic,
		WithSampleInterval(5*time.Millisecond),
		WithRand(func() float64 { return 1 }),
		WithOnLevel(func(l Level) {
			mu.Lock()
			levels = append(levels, l)
			mu.Unlock()
		}),
	)
	_ = e.Start(context.Background())
	mic.Last().Push(tone(512))

	waitUntil(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) > 0 && levels[len(levels)-1].Average > 0
	})
	_, _ = e.Stop(context.Background())

	mu.Lock()
	last := levels[len(levels)-1]
	n := len(levels)
	mu.Unlock()
	if len(last.Bars) != 20 {
		t.Fatalf("bars = %d, want 20", len(last.Bars))
	}
	want := max(5, last.Average/255*50)
	for i, b := range last.Bars {
		if b != want {
			t.Errorf("bar %d = %v, want %v", i, b, want)
		}
	}

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if len(levels) != n {
		t.Error("levels published after Stop returned")
	}
}

func TestDeviceDropReportsError(t *testing.T) {
	t.Parallel()
	errc := make(chan error, 1)
	mic := &mock.Microphone{}
	e := New(mic, WithOnError(func(err error) { errc <- err }))
	_ = e.Start(context.Background())

	mic.Last().Fail(errors.New("unplugged"))
	select {
	case err := <-errc:
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Errorf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error reported")
	}
	if !mic.Last().Closed() {
		t.Error("dropped handle must still be closed")
	}
	if e.Status() != StatusFailed {
		t.Errorf("status = %s", e.Status())
	}
}

func TestStop_AfterDeviceDropReturnsError(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	mic.Last().Fail(errors.New("unplugged"))
	waitUntil(t, func() bool { return e.Status() == StatusFailed })

	clip, err := e.Stop(context.Background())
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Fatalf("Stop = %v, want ErrDeviceUnavailable", err)
	}
	if !clip.Empty() {
		t.Error("clip returned for a dropped recording")
	}
	if _, err := e.Stop(context.Background()); err != nil {
		t.Errorf("second Stop = %v, want nil", err)
	}

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start after drop: %v", err)
	}
	e.Cancel()
	if _, err := e.Stop(context.Background()); err != nil {
		t.Errorf("Stop after restart = %v", err)
	}
}

func TestConvertsToTarget(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{Format: audio.Format{SampleRate: 48000, Channels: 2}}
	e := New(mic)
	_ = e.Start(context.Background())
	// 100ms of 48 kHz stereo.
	mic.Last().Push(make([]byte, 48000*2*2/10))

	clip, err := e.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	_, f, _ := audio.DecodeWAV(clip.Data)
	if f.SampleRate != 16000 || f.Channels != 1 {
		t.Errorf("format = %+v", f)
	}
	if clip.Duration < 95*time.Millisecond || clip.Duration > 105*time.Millisecond {
		t.Errorf("duration = %v, want ~100ms", clip.Duration)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	mic := &mock.Microphone{}
	e := New(mic)
	_ = e.Start(context.Background())
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	if mic.OpenCount() != 0 {
		t.Error("Close must release the microphone")
	}
	if err := e.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v", err)
	}
}

func TestFormatElapsed(t *testing.T) {
	t.Parallel()
	cases := map[int]string{0: "0:00", 7: "0:07", 65: "1:05", 600: "10:00"}
	for in, want := range cases {
		if got := FormatElapsed(in); got != want {
			t.Errorf("FormatElapsed(%d) = %q, want %q", in, got, want)
		}
	}
}
