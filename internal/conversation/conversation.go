// Package conversation keeps the ordered, append-only record of a chat
// between the user and the synthetic counterpart.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/types"
)

// Turn is one message in the conversation. Audio is a private copy owned by
// the conversation; accessors hand out clones.
type Turn struct {
	ID        string
	Role      string
	Text      string
	CreatedAt time.Time

	audio audio.Clip
}

// HasAudio reports whether the turn carries playable audio.
func (t Turn) HasAudio() bool { return !t.audio.Empty() }

// Audio returns a copy of the turn's audio.
func (t Turn) Audio() audio.Clip { return t.audio.Clone() }

// Conversation is safe for concurrent use.
type Conversation struct {
	mu    sync.RWMutex
	turns []Turn
	now   func() time.Time
}

// New returns an empty Conversation.
func New() *Conversation {
	return &Conversation{now: time.Now}
}

// Append adds a single turn. clip may be empty.
func (c *Conversation) Append(role, text string, clip audio.Clip) Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(role, text, clip)
}

// AppendExchange adds a user turn and the assistant reply together, so
// readers never observe one without the other.
func (c *Conversation) AppendExchange(userText, replyText string, reply audio.Clip) (user, assistant Turn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user = c.appendLocked(types.RoleUser, userText, audio.Clip{})
	assistant = c.appendLocked(types.RoleAssistant, replyText, reply)
	return user, assistant
}

func (c *Conversation) appendLocked(role, text string, clip audio.Clip) Turn {
	t := Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: c.now(),
		audio:     clip.Clone(),
	}
	c.turns = append(c.turns, t)
	return t
}

// Turns returns a snapshot of every turn, oldest first.
func (c *Conversation) Turns() []Turn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Get returns the turn with id.
func (c *Conversation) Get(id string) (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, t := range c.turns {
		if t.ID == id {
			return t, true
		}
	}
	return Turn{}, false
}

// LastAssistant returns the most recent assistant turn that has audio.
func (c *Conversation) LastAssistant() (Turn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.turns) - 1; i >= 0; i-- {
		if t := c.turns[i]; t.Role == types.RoleAssistant && t.HasAudio() {
			return t, true
		}
	}
	return Turn{}, false
}

// History returns the conversation as chat messages, oldest first.
func (c *Conversation) History() []types.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.Message, len(c.turns))
	for i, t := range c.turns {
		out[i] = types.Message{Role: t.Role, Content: t.Text}
	}
	return out
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.turns)
}

// Clear removes every turn.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns = nil
}
