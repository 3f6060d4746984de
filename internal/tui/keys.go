package tui

import "github.com/charmbracelet/bubbles/key"

// KeyMap holds the terminal bindings.
type KeyMap struct {
	Record key.Binding
	Send   key.Binding
	Replay key.Binding
	Clear  key.Binding
	Preset key.Binding
	Pause  key.Binding
	Quit   key.Binding
}

// DefaultKeyMap is the binding set used by [New].
var DefaultKeyMap = KeyMap{
	Record: key.NewBinding(
		key.WithKeys(" "),
		key.WithHelp("space", "record/stop"),
	),
	Send: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "send"),
	),
	Replay: key.NewBinding(
		key.WithKeys("ctrl+r"),
		key.WithHelp("ctrl+r", "replay"),
	),
	Clear: key.NewBinding(
		key.WithKeys("ctrl+l"),
		key.WithHelp("ctrl+l", "clear"),
	),
	Preset: key.NewBinding(
		key.WithKeys("ctrl+p"),
		key.WithHelp("ctrl+p", "personality"),
	),
	Pause: key.NewBinding(
		key.WithKeys("ctrl+s"),
		key.WithHelp("ctrl+s", "pause/resume"),
	),
	Quit: key.NewBinding(
		key.WithKeys("ctrl+c", "esc"),
		key.WithHelp("esc", "quit"),
	),
}

// ShortHelp implements help.KeyMap.
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Record, k.Send, k.Replay, k.Clear, k.Preset, k.Pause, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Record, k.Send, k.Pause},
		{k.Replay, k.Clear, k.Preset, k.Quit},
	}
}
