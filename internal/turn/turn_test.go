package turn

import (
	"errors"
	"testing"
)

func record(m *Machine) *[]Transition {
	var got []Transition
	m.Observe(func(tr Transition) { got = append(got, tr) })
	return &got
}

func TestHappyPath(t *testing.T) {
	t.Parallel()
	m := New()
	got := record(m)

	for _, s := range []State{Listening, Thinking, Speaking, Idle} {
		if err := m.Transition(s, nil); err != nil {
			t.Fatalf("-> %s: %v", s, err)
		}
	}
	want := []State{Listening, Thinking, Speaking, Idle}
	if len(*got) != len(want) {
		t.Fatalf("observed %d transitions, want %d", len(*got), len(want))
	}
	prev := Idle
	for i, tr := range *got {
		if tr.From != prev || tr.To != want[i] {
			t.Errorf("transition %d = %s->%s, want %s->%s", i, tr.From, tr.To, prev, want[i])
		}
		if tr.At.IsZero() {
			t.Errorf("transition %d has no timestamp", i)
		}
		prev = tr.To
	}
}

func TestInvalidTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct{ from, to State }{
		{Idle, Speaking},
		{Idle, Errored},
		{Idle, Idle},
		{Listening, Speaking},
		{Errored, Thinking},
		{Errored, Speaking},
	}
	for _, tt := range tests {
		if CanTransition(tt.from, tt.to) {
			t.Errorf("%s -> %s should be rejected", tt.from, tt.to)
		}
	}

	m := New()
	got := record(m)
	if err := m.Transition(Speaking, nil); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if m.State() != Idle || len(*got) != 0 {
		t.Error("rejected transition must not change state or notify")
	}
}

func TestAnyStatePreemptsToListening(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Idle, Listening, Thinking, Speaking, Errored} {
		if !CanTransition(s, Listening) {
			t.Errorf("%s -> listening should be allowed", s)
		}
	}
}

func TestTypedPathEntersThinking(t *testing.T) {
	t.Parallel()
	for _, s := range []State{Idle, Listening, Thinking, Speaking} {
		if !CanTransition(s, Thinking) {
			t.Errorf("%s -> thinking should be allowed", s)
		}
	}
}

func TestFail(t *testing.T) {
	t.Parallel()
	m := New()
	_ = m.Transition(Thinking, nil)
	got := record(m)

	boom := errors.New("chat down")
	if err := m.Fail(boom); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if m.State() != Idle {
		t.Fatalf("state = %s, want idle", m.State())
	}
	if len(*got) != 2 || (*got)[0].To != Errored || (*got)[1].To != Idle {
		t.Fatalf("transitions = %+v", *got)
	}
	if !errors.Is((*got)[0].Err, boom) {
		t.Errorf("Errored transition err = %v", (*got)[0].Err)
	}
}

func TestFail_FromIdleRejected(t *testing.T) {
	t.Parallel()
	m := New()
	if err := m.Fail(errors.New("x")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v", err)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	m := New()
	got := record(m)
	if err := m.Reset(); err != nil || len(*got) != 0 {
		t.Fatalf("Reset from idle: err=%v transitions=%d", err, len(*got))
	}
	_ = m.Transition(Listening, nil)
	if err := m.Reset(); err != nil || m.State() != Idle {
		t.Fatalf("Reset: err=%v state=%s", err, m.State())
	}
}

func TestStatusText(t *testing.T) {
	t.Parallel()
	cases := map[State]string{
		Idle:      "Ready to chat",
		Listening: "Listening...",
		Speaking:  "Speaking...",
		Errored:   "Ready to chat",
	}
	for s, want := range cases {
		if got := s.StatusText(); got != want {
			t.Errorf("%s.StatusText() = %q, want %q", s, got, want)
		}
	}
}
