// Package anyllm is the chat provider for the hosted and local model APIs
// reachable through github.com/mozilla-ai/any-llm-go. Mistral is the default
// persona backend; Anthropic, Gemini, DeepSeek, Groq, OpenAI and a local
// Ollama server are interchangeable with it.
//
//	p, err := anyllm.New("mistral", "", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

type backend struct {
	open func(...anyllmlib.Option) (anyllmlib.Provider, error)
	// model is used when the config names none; "" means one is required.
	model string
}

var backends = map[string]backend{
	"mistral": {model: "mistral-large-latest", open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return mistral.New(o...)
	}},
	"anthropic": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return anthropic.New(o...)
	}},
	"gemini": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return gemini.New(o...)
	}},
	"deepseek": {model: "deepseek-chat", open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return deepseek.New(o...)
	}},
	"groq": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return groq.New(o...)
	}},
	"openai": {model: "gpt-4o-mini", open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return anyllmoai.New(o...)
	}},
	"ollama": {open: func(o ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return ollama.New(o...)
	}},
}

// Supported returns the backend names [New] accepts, sorted.
func Supported() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DefaultModel is the model used for name when none is configured, or "".
func DefaultModel(name string) string {
	return backends[strings.ToLower(name)].model
}

// Provider answers persona chat turns through one any-llm-go backend.
type Provider struct {
	name    string
	backend anyllmlib.Provider
	model   string
}

// New opens the named backend. An empty model selects [DefaultModel]; backends
// without one need it spelled out. Without an API key option the backend reads
// its usual environment variable, e.g. MISTRAL_API_KEY.
func New(name, model string, opts ...anyllmlib.Option) (*Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return nil, errors.New("anyllm: backend name must not be empty")
	}
	b, ok := backends[name]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", name, strings.Join(Supported(), ", "))
	}
	if model == "" {
		model = b.model
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: %s needs a model", name)
	}
	be, err := b.open(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: open %s: %w", name, err)
	}
	return &Provider{name: name, backend: be, model: model}, nil
}

// NewOllama opens a local Ollama server; set its address with
// anyllmlib.WithBaseURL.
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// Complete implements llm.Provider. Throttling and unknown-model failures
// match [llm.ErrRateLimited] and [llm.ErrModelNotFound].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anyllm: no messages to answer")
	}
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s completion: %w", p.name, llm.Classify(err, 0))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: %s returned no choices", p.name)
	}

	out := &llm.CompletionResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.ContentString()),
		Model:   p.model,
	}
	if resp.Usage != nil {
		out.Usage = llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}

// Model implements llm.Provider.
func (p *Provider) Model() string { return p.model }

// buildParams puts the persona prompt ahead of the history. Zero sampling
// values leave the backend defaults alone.
func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: chatRole(m.Role), Content: m.Content})
	}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}

// chatRole keeps assistant turns and sends everything else as the user.
func chatRole(role string) string {
	if role == types.RoleAssistant {
		return types.RoleAssistant
	}
	return types.RoleUser
}
