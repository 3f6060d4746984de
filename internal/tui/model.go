package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/voxpersona/voxpersona/internal/app"
	"github.com/voxpersona/voxpersona/internal/avatar"
	"github.com/voxpersona/voxpersona/internal/capture"
	"github.com/voxpersona/voxpersona/internal/event"
)

// Controller is the part of [app.Session] the terminal drives.
type Controller interface {
	ToggleListening(ctx context.Context) error
	Send(ctx context.Context, text string) error
	ReplayLast(ctx context.Context) error
	Clear() error
	CyclePreset() string
	Pause() error
	Resume() error
}

var _ Controller = (*app.Session)(nil)

// eventMsg carries one session event into the update loop.
type eventMsg event.Event

// closedMsg reports that the event subscription ended.
type closedMsg struct{}

// actionErrMsg reports a failed controller call.
type actionErrMsg struct{ err error }

// Model is the bubbletea model of the terminal front end.
type Model struct {
	ctx    context.Context
	ctrl   Controller
	events <-chan event.Event

	input textinput.Model
	help  help.Model
	keys  KeyMap

	width int

	state   string
	status  string
	frame   avatar.Frame
	bars    []float64
	elapsed string
	turns   []app.TurnView
	voice   string
	paused  bool
	lastErr string
}

// NewModel creates a model that drives ctrl and renders events. events is
// usually a subscription to the session bus.
func NewModel(ctx context.Context, ctrl Controller, events <-chan event.Event) Model {
	ti := textinput.New()
	ti.Placeholder = "Type a message, or press space to talk"
	ti.CharLimit = 2000
	ti.Prompt = "› "
	ti.Focus()

	return Model{
		ctx:    ctx,
		ctrl:   ctrl,
		events: events,
		input:  ti,
		help:   help.New(),
		keys:   DefaultKeyMap,
		state:  "idle",
		status: avatar.StatusReady,
		frame:  avatar.Frame{Status: avatar.StatusReady, Scale: 1},
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.waitForEvent())
}

func (m Model) waitForEvent() tea.Cmd {
	if m.events == nil {
		return nil
	}
	events := m.events
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return closedMsg{}
		}
		return eventMsg(ev)
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.input.Width = max(10, msg.Width-6)
		m.help.Width = msg.Width
		return m, nil

	case eventMsg:
		m.apply(event.Event(msg))
		return m, m.waitForEvent()

	case closedMsg:
		return m, tea.Quit

	case actionErrMsg:
		m.lastErr = msg.err.Error()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit

	case key.Matches(msg, m.keys.Record) && m.input.Value() == "":
		m.lastErr = ""
		return m, m.call(func(ctx context.Context) error { return m.ctrl.ToggleListening(ctx) })

	case key.Matches(msg, m.keys.Send):
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		m.lastErr = ""
		return m, m.call(func(ctx context.Context) error { return m.ctrl.Send(ctx, text) })

	case key.Matches(msg, m.keys.Replay):
		return m, m.call(func(ctx context.Context) error { return m.ctrl.ReplayLast(ctx) })

	case key.Matches(msg, m.keys.Clear):
		m.lastErr = ""
		return m, m.call(func(context.Context) error { return m.ctrl.Clear() })

	case key.Matches(msg, m.keys.Preset):
		return m, m.call(func(context.Context) error {
			m.ctrl.CyclePreset()
			return nil
		})

	case key.Matches(msg, m.keys.Pause):
		paused := m.paused
		return m, m.call(func(context.Context) error {
			if paused {
				return m.ctrl.Resume()
			}
			return m.ctrl.Pause()
		})
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// call runs fn off the update loop; capture start may wait on the device.
func (m Model) call(fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		if err := fn(ctx); err != nil {
			return actionErrMsg{err: err}
		}
		return nil
	}
}

// apply folds one session event into the view state.
func (m *Model) apply(ev event.Event) {
	switch p := ev.Payload.(type) {
	case app.StatePayload:
		m.state, m.status = p.State, p.Status
		if p.State != "listening" {
			m.bars, m.elapsed = nil, ""
		}
		if p.State != "speaking" {
			m.paused = false
		}
	case capture.Level:
		m.bars = p.Bars
	case app.ElapsedPayload:
		m.elapsed = p.Text
	case avatar.Frame:
		m.frame = p
	case app.ConversationPayload:
		m.turns = p.Turns
	case app.PlaybackPayload:
		switch p.Kind {
		case "paused":
			m.paused = true
		case "resumed", "started", "ended", "errored":
			m.paused = false
		}
	case app.VoicesPayload:
		m.voice = voiceName(p)
	case app.PersonaPayload:
		m.frame.Badge = p.Badge
	case app.ErrorPayload:
		m.lastErr = p.Message
		if p.RetryAfter != "" {
			m.lastErr += " (" + p.RetryAfter + ")"
		}
	}
}

func voiceName(p app.VoicesPayload) string {
	for _, v := range p.Voices {
		if v.ID == p.Selected {
			if v.Name != "" {
				return v.Name
			}
			return v.ID
		}
	}
	return p.Selected
}

// ─── View ────────────────────────────────────────────────────────────────────

// View implements tea.Model.
func (m Model) View() string {
	width := m.width
	if width == 0 {
		width = 80
	}

	header := m.status
	if m.paused {
		header += " (paused)"
	}
	if m.voice != "" {
		header += "  ·  voice: " + m.voice
	}
	sections := []string{statusBarStyle.Width(width).Render(header)}

	face := avatarStyle
	if m.frame.Listening {
		face = listeningStyle
	}
	left := face.Render(renderFace(m.frame))
	if m.frame.Badge != "" {
		left = lipgloss.JoinVertical(lipgloss.Center, left, badgeStyle.Render(m.frame.Badge))
	}
	right := ""
	if m.state == "listening" {
		right = barsStyle.Render(renderBars(m.bars)) + "  " + m.elapsed
	}
	sections = append(sections, lipgloss.JoinHorizontal(lipgloss.Center, left, "  ", right))

	sections = append(sections, chatStyle.Width(width-2).Render(m.renderTurns(8)))
	if m.lastErr != "" {
		sections = append(sections, errorStyle.Render("✗ "+m.lastErr))
	}
	sections = append(sections, m.input.View(), hintStyle.Render(m.help.View(m.keys)))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderTurns(limit int) string {
	if len(m.turns) == 0 {
		return hintStyle.Render("No messages yet.")
	}
	turns := m.turns
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		if t.Role == "assistant" {
			mark := ""
			if t.HasAudio {
				mark = " ♪"
			}
			lines = append(lines, assistantStyle.Render("AI: "+t.Text+mark))
			continue
		}
		lines = append(lines, userStyle.Render("You: "+t.Text))
	}
	return strings.Join(lines, "\n")
}

// renderFace draws the avatar frame as three lines of text.
func renderFace(f avatar.Frame) string {
	eyes := "◉   ◉"
	if f.EyesClosed {
		eyes = "─   ─"
	}
	mouth := " ‿ "
	switch {
	case f.Speaking && f.MouthOpen && f.Pose == avatar.PoseTalkingLong:
		mouth = " ◯ "
	case f.Speaking && f.MouthOpen:
		mouth = " o "
	case f.Speaking:
		mouth = " - "
	}
	return fmt.Sprintf(" %s \n  %s  \n%s", eyes, mouth, f.Status)
}

var blocks = []rune("▁▂▃▄▅▆▇█")

// maxBar is the tallest bar height the capture engine reports.
const maxBar = 50.0

func renderBars(bars []float64) string {
	var b strings.Builder
	for _, h := range bars {
		i := int(h / maxBar * float64(len(blocks)-1))
		i = min(max(i, 0), len(blocks)-1)
		b.WriteRune(blocks[i])
	}
	return b.String()
}
