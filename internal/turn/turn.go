// Package turn implements the conversational turn state machine.
//
// The machine only validates and records transitions; the work each state
// stands for (recording, the collaborator pipeline, playback) is driven by
// the owner, which calls [Machine.Transition] as that work progresses.
//
//	Idle ─► Listening ─► Thinking ─► Speaking ─► Idle
//	  any ─► Listening           (preemption)
//	  Idle ─► Thinking           (typed message)
//	  Listening|Thinking|Speaking ─► Errored ─► Idle
package turn

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition is returned when a transition is not in the table.
var ErrInvalidTransition = errors.New("turn: invalid transition")

// State is a position in the turn lifecycle.
type State int

const (
	Idle State = iota
	Listening
	Thinking
	Speaking
	Errored
)

// String returns the lower-case state name.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StatusText is the line shown to the user for s.
func (s State) StatusText() string {
	switch s {
	case Listening:
		return "Listening..."
	case Thinking:
		return "Thinking..."
	case Speaking:
		return "Speaking..."
	default:
		return "Ready to chat"
	}
}

var allowed = map[State][]State{
	Idle:      {Listening, Thinking},
	Listening: {Listening, Thinking, Idle, Errored},
	Thinking:  {Listening, Thinking, Speaking, Idle, Errored},
	Speaking:  {Listening, Thinking, Idle, Errored},
	Errored:   {Idle, Listening},
}

// CanTransition reports whether from → to is in the table.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition describes one state change. Err is set when entering Errored.
type Transition struct {
	From State
	To   State
	Err  error
	At   time.Time
}

// Observer is notified of every transition, synchronously and in order.
type Observer func(Transition)

// Machine holds the current state. Safe for concurrent use; observers run
// on the calling goroutine after the state has changed and must not call
// back into the machine.
type Machine struct {
	mu        sync.Mutex
	state     State
	observers []Observer
	now       func() time.Time

	// notify serializes observer delivery so two concurrent transitions
	// cannot reach observers out of order.
	notify sync.Mutex
}

// New returns a Machine in Idle.
func New() *Machine {
	return &Machine{now: time.Now}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Observe registers fn for all future transitions.
func (m *Machine) Observe(fn Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Transition moves to the state to. err is recorded on the transition and
// is only meaningful when entering Errored.
func (m *Machine) Transition(to State, err error) error {
	m.notify.Lock()
	defer m.notify.Unlock()

	m.mu.Lock()
	from := m.state
	if !CanTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	tr := Transition{From: from, To: to, Err: err, At: m.now()}
	obs := make([]Observer, len(m.observers))
	copy(obs, m.observers)
	m.mu.Unlock()

	for _, fn := range obs {
		fn(tr)
	}
	return nil
}

// Fail enters Errored with err and then returns to Idle, so observers see
// both edges back to back.
func (m *Machine) Fail(err error) error {
	if err := m.Transition(Errored, err); err != nil {
		return err
	}
	return m.Transition(Idle, nil)
}

// Reset forces the machine to Idle. It is a no-op when already Idle.
func (m *Machine) Reset() error {
	switch m.State() {
	case Idle:
		return nil
	default:
		return m.Transition(Idle, nil)
	}
}
