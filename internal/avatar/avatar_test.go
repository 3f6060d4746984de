package avatar

import (
	"math"
	"testing"
	"time"

	"github.com/voxpersona/voxpersona/internal/turn"
)

func TestClassifyUtterance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		text string
		want Pose
	}{
		{"Hello!", PoseTalking},
		{"one two three four five six seven eight nine ten", PoseTalking},
		{"one two three four five six seven eight nine ten eleven", PoseTalkingLong},
		// Runs of spaces do not inflate the count.
		{"a  b   c", PoseTalking},
		{"", PoseTalking},
	}
	for _, tt := range tests {
		if got := ClassifyUtterance(tt.text, 10); got != tt.want {
			t.Errorf("ClassifyUtterance(%q) = %s, want %s", tt.text, got, tt.want)
		}
	}
}

func TestMouthInterval(t *testing.T) {
	t.Parallel()
	p := DefaultPolicy()
	tests := []struct {
		name     string
		words    int
		duration time.Duration
		want     time.Duration
	}{
		// 2.5 words/s -> 200ms per phase.
		{"speech rate fallback", 5, 0, 200 * time.Millisecond},
		// 4 words/s -> 125ms.
		{"from duration", 8, 2 * time.Second, 125 * time.Millisecond},
		{"clamped fast", 100, time.Second, 80 * time.Millisecond},
		{"clamped slow", 1, 10 * time.Second, 250 * time.Millisecond},
		{"no words", 0, time.Second, 200 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := MouthInterval(tt.words, tt.duration, p); got != tt.want {
			t.Errorf("%s: MouthInterval = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestProject(t *testing.T) {
	t.Parallel()
	u := &Utterance{Pose: PoseTalkingLong, MouthInterval: 100 * time.Millisecond}

	idle := Project(turn.Idle, u, time.Second)
	if idle.Pose != PoseIdle || idle.MouthOpen || idle.Status != StatusReady {
		t.Errorf("idle frame = %+v", idle)
	}
	listening := Project(turn.Listening, nil, 0)
	if !listening.Listening || listening.Status != StatusListening || listening.Pose != PoseIdle {
		t.Errorf("listening frame = %+v", listening)
	}
	if f := Project(turn.Speaking, nil, time.Second); f.Pose != PoseIdle || !f.Speaking {
		t.Errorf("speaking without utterance = %+v", f)
	}

	phases := []struct {
		elapsed time.Duration
		open    bool
	}{
		{0, false},
		{50 * time.Millisecond, false},
		{100 * time.Millisecond, true},
		{199 * time.Millisecond, true},
		{200 * time.Millisecond, false},
		{350 * time.Millisecond, true},
	}
	for _, ph := range phases {
		f := Project(turn.Speaking, u, ph.elapsed)
		if f.Pose != PoseTalkingLong || f.PoseName != "talking_long" {
			t.Fatalf("pose = %+v", f)
		}
		if f.MouthOpen != ph.open {
			t.Errorf("elapsed %v: mouth open = %v, want %v", ph.elapsed, f.MouthOpen, ph.open)
		}
	}
}

func TestProjectIsPure(t *testing.T) {
	t.Parallel()
	u := &Utterance{Pose: PoseTalking, MouthInterval: 120 * time.Millisecond}
	a := Project(turn.Speaking, u, 777*time.Millisecond)
	b := Project(turn.Speaking, u, 777*time.Millisecond)
	if a != b {
		t.Errorf("same inputs gave %+v and %+v", a, b)
	}
}

func TestBreathing(t *testing.T) {
	t.Parallel()
	if got := Breathing(0); got != 1 {
		t.Errorf("Breathing(0) = %v", got)
	}
	for _, d := range []time.Duration{time.Second, 3 * time.Second, 10 * time.Second} {
		s := Breathing(d)
		if math.Abs(s-1) > 0.02+1e-12 {
			t.Errorf("Breathing(%v) = %v out of range", d, s)
		}
	}
}

func TestAssetsFor(t *testing.T) {
	t.Parallel()
	a := DefaultPolicy().Assets
	if a.For(PoseIdle) != "idle_avatar.png" || a.For(PoseTalking) != "talking.gif" || a.For(PoseTalkingLong) != "talking_long.gif" {
		t.Errorf("assets = %+v", a)
	}
}
