// Package tui is the terminal front end: a bubbletea program that drives an
// [app.Session] from the keyboard and renders its events.
package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/voxpersona/voxpersona/internal/app"
)

// Run shows the terminal UI for session and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, session *app.Session, opts ...tea.ProgramOption) error {
	events, unsubscribe := session.Bus().Subscribe(256)
	defer unsubscribe()

	session.Announce()
	p := tea.NewProgram(NewModel(ctx, session, events), append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)...)

	stop := context.AfterFunc(ctx, p.Quit)
	defer stop()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
