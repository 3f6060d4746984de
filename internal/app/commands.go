package app

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownCommand is returned by [Session.Dispatch] for an unrecognised
// action.
var ErrUnknownCommand = errors.New("app: unknown command")

// Command is a user action from a front end. Its layout matches
// wsbridge.Command so bridge commands convert directly.
type Command struct {
	// Action is one of start, stop, toggle, send, replay, clear, pause,
	// resume, voice, personality, preset or cycle.
	Action string
	Text   string
	TurnID string
	Value  string
}

// Dispatch runs cmd against the session.
func (s *Session) Dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Action {
	case "start":
		return s.StartListening(ctx)
	case "stop":
		return s.StopListening(ctx)
	case "toggle":
		return s.ToggleListening(ctx)
	case "send":
		return s.Send(ctx, cmd.Text)
	case "replay":
		if cmd.TurnID == "" {
			return s.ReplayLast(ctx)
		}
		return s.Replay(ctx, cmd.TurnID)
	case "clear":
		return s.Clear()
	case "pause":
		return s.Pause()
	case "resume":
		return s.Resume()
	case "voice":
		return s.SelectVoice(cmd.Value)
	case "personality":
		s.SetPersonality(cmd.Text)
		return nil
	case "preset":
		return s.SetPreset(cmd.Value)
	case "cycle":
		s.CyclePreset()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Action)
	}
}
