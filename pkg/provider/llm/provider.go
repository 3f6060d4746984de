// Package llm defines the Provider interface for the chat language model that
// writes the persona's replies.
//
// A provider wraps a remote or local model API (Mistral, OpenAI, Anthropic, a
// local Ollama instance...) behind a single blocking completion call. The turn
// pipeline treats the model as an opaque collaborator: it sends the persona's
// system prompt, the conversation so far and the new user message, and gets
// back one reply.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/voxpersona/voxpersona/pkg/types"
)

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, ending with the message
	// the model should answer.
	Messages []types.Message

	// SystemPrompt is the persona instruction injected before the history.
	// Providers without a dedicated system field prepend it as a "system"
	// message.
	SystemPrompt string

	// Temperature controls output randomness. Zero uses the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero uses the provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the reply.
	Content string

	// Model is the model that actually served the request.
	Model string

	Usage Usage
}

// Provider is the abstraction over any chat model backend.
type Provider interface {
	// Complete sends req to the model and waits for the full reply. It returns
	// promptly when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the configured model identifier.
	Model() string
}
