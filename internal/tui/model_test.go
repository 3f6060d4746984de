package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/voxpersona/voxpersona/internal/app"
	"github.com/voxpersona/voxpersona/internal/avatar"
	"github.com/voxpersona/voxpersona/internal/capture"
	"github.com/voxpersona/voxpersona/internal/event"
	"github.com/voxpersona/voxpersona/pkg/types"
)

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	sent    []string
	sendErr error
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) ToggleListening(context.Context) error { f.record("toggle"); return nil }
func (f *fakeController) ReplayLast(context.Context) error      { f.record("replay"); return nil }
func (f *fakeController) Clear() error                          { f.record("clear"); return nil }
func (f *fakeController) CyclePreset() string                   { f.record("preset"); return "casual" }
func (f *fakeController) Pause() error                          { f.record("pause"); return nil }
func (f *fakeController) Resume() error                         { f.record("resume"); return nil }

func (f *fakeController) Send(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "send")
	f.sent = append(f.sent, text)
	return f.sendErr
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestModel(ctrl Controller) Model {
	return NewModel(context.Background(), ctrl, nil)
}

// press feeds a key and runs the resulting command synchronously.
func press(t *testing.T, m Model, k tea.KeyMsg) (Model, tea.Msg) {
	t.Helper()
	next, cmd := m.Update(k)
	var out tea.Msg
	if cmd != nil {
		out = cmd()
	}
	return next.(Model), out
}

func runes(s string) tea.KeyMsg { return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)} }

var space = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}

func TestSpace_TogglesWhenInputEmpty(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	m, _ := press(t, newTestModel(ctrl), space)
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "toggle" {
		t.Fatalf("calls = %v", got)
	}
	if m.input.Value() != "" {
		t.Errorf("space leaked into input: %q", m.input.Value())
	}
}

func TestSpace_TypesWhenInputHasText(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	m, _ := press(t, newTestModel(ctrl), runes("hi"))
	m, _ = press(t, m, space)
	if got := ctrl.Calls(); len(got) != 0 {
		t.Fatalf("calls = %v", got)
	}
	if m.input.Value() != "hi " {
		t.Errorf("input = %q", m.input.Value())
	}
}

func TestEnter_SendsTrimmedText(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	m, _ := press(t, newTestModel(ctrl), runes("  hello there "))
	m, msg := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if msg != nil {
		t.Fatalf("unexpected msg %T", msg)
	}
	if len(ctrl.sent) != 1 || ctrl.sent[0] != "hello there" {
		t.Fatalf("sent = %q", ctrl.sent)
	}
	if m.input.Value() != "" {
		t.Errorf("input not reset: %q", m.input.Value())
	}

	if _, msg := press(t, m, tea.KeyMsg{Type: tea.KeyEnter}); msg != nil || len(ctrl.Calls()) != 1 {
		t.Error("enter on empty input should do nothing")
	}
}

func TestEnter_ErrorIsShown(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{sendErr: errors.New("session closed")}
	m, _ := press(t, newTestModel(ctrl), runes("hi"))
	m, msg := press(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	next, _ := m.Update(msg)
	if !strings.Contains(next.View(), "session closed") {
		t.Errorf("view lacks error:\n%s", next.View())
	}
}

func TestShortcuts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyCtrlR}, "replay"},
		{tea.KeyMsg{Type: tea.KeyCtrlL}, "clear"},
		{tea.KeyMsg{Type: tea.KeyCtrlP}, "preset"},
		{tea.KeyMsg{Type: tea.KeyCtrlS}, "pause"},
	}
	for _, tt := range tests {
		ctrl := &fakeController{}
		press(t, newTestModel(ctrl), tt.key)
		if got := ctrl.Calls(); len(got) != 1 || got[0] != tt.want {
			t.Errorf("%s: calls = %v, want [%s]", tt.key, got, tt.want)
		}
	}
}

func TestPauseToggle_FollowsPlaybackEvents(t *testing.T) {
	t.Parallel()
	ctrl := &fakeController{}
	m := newTestModel(ctrl)
	next, _ := m.Update(eventMsg(event.Event{Type: event.TypePlayback, Payload: app.PlaybackPayload{Kind: "paused"}}))
	m = next.(Model)
	if !strings.Contains(m.View(), "(paused)") {
		t.Error("paused marker missing")
	}
	press(t, m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if got := ctrl.Calls(); len(got) != 1 || got[0] != "resume" {
		t.Errorf("calls = %v, want [resume]", got)
	}
}

func TestQuit(t *testing.T) {
	t.Parallel()
	_, msg := press(t, newTestModel(&fakeController{}), tea.KeyMsg{Type: tea.KeyEsc})
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("msg = %T, want QuitMsg", msg)
	}
}

func TestEvents_Render(t *testing.T) {
	t.Parallel()
	m := newTestModel(&fakeController{})
	feed := []event.Event{
		{Type: event.TypeState, Payload: app.StatePayload{State: "listening", Status: "Listening..."}},
		{Type: event.TypeLevel, Payload: capture.Level{Bars: []float64{5, 50, 25}}},
		{Type: event.TypeElapsed, Payload: app.ElapsedPayload{Seconds: 3, Text: "0:03"}},
		{Type: event.TypeVoices, Payload: app.VoicesPayload{
			Voices:   []types.VoiceProfile{{ID: "v1", Name: "Rachel"}, {ID: "v2", Name: "Adam"}},
			Selected: "v2",
		}},
		{Type: event.TypePersona, Payload: app.PersonaPayload{Badge: "Casual"}},
		{Type: event.TypeConversation, Payload: app.ConversationPayload{Turns: []app.TurnView{
			{ID: "1", Role: "user", Text: "hello"},
			{ID: "2", Role: "assistant", Text: "hi there", HasAudio: true},
		}}},
	}
	for _, ev := range feed {
		next, _ := m.Update(eventMsg(ev))
		m = next.(Model)
	}
	view := m.View()
	for _, want := range []string{"Listening...", "▁█", "0:03", "voice: Adam", "Casual", "You: hello", "AI: hi there ♪"} {
		if !strings.Contains(view, want) {
			t.Errorf("view lacks %q:\n%s", want, view)
		}
	}

	next, _ := m.Update(eventMsg(event.Event{Type: event.TypeState, Payload: app.StatePayload{State: "thinking", Status: "Thinking..."}}))
	if strings.Contains(next.View(), "0:03") {
		t.Error("recording timer still shown after listening ended")
	}
}

func TestEvents_ErrorWithRetryAfter(t *testing.T) {
	t.Parallel()
	m := newTestModel(&fakeController{})
	next, _ := m.Update(eventMsg(event.Event{Type: event.TypeError, Payload: app.ErrorPayload{
		Kind: "chat_failed", Message: "rate limited", RetryAfter: "wait a minute",
	}}))
	if !strings.Contains(next.View(), "rate limited (wait a minute)") {
		t.Errorf("view:\n%s", next.View())
	}
}

func TestRenderFace(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		frame avatar.Frame
		want  string
	}{
		{"idle", avatar.Frame{Status: avatar.StatusReady}, "‿"},
		{"blink", avatar.Frame{EyesClosed: true}, "─   ─"},
		{"talking open", avatar.Frame{Speaking: true, MouthOpen: true, Pose: avatar.PoseTalking}, " o "},
		{"long open", avatar.Frame{Speaking: true, MouthOpen: true, Pose: avatar.PoseTalkingLong}, "◯"},
		{"talking closed", avatar.Frame{Speaking: true}, " - "},
	}
	for _, tt := range tests {
		if got := renderFace(tt.frame); !strings.Contains(got, tt.want) {
			t.Errorf("%s: face %q lacks %q", tt.name, got, tt.want)
		}
	}
}

func TestWaitForEvent(t *testing.T) {
	t.Parallel()
	ch := make(chan event.Event, 1)
	m := NewModel(context.Background(), &fakeController{}, ch)

	ch <- event.Event{Type: event.TypeState, At: time.Now()}
	if msg, ok := m.waitForEvent()().(eventMsg); !ok || msg.Type != event.TypeState {
		t.Fatalf("msg = %#v", msg)
	}
	close(ch)
	if _, ok := m.waitForEvent()().(closedMsg); !ok {
		t.Fatal("closed channel should yield closedMsg")
	}
	_, cmd := m.Update(closedMsg{})
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("closedMsg should quit")
	}
}
