// Package openai is the chat provider for the OpenAI API and OpenAI-compatible
// servers (Azure OpenAI, vLLM, LM Studio), built on github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider answers persona chat turns through the chat completions API.
type Provider struct {
	client oai.Client
	model  string
}

// Option configures a [Provider].
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithHTTPClient replaces the SDK's HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithHTTPClient(c)) }
}

// New returns a provider for model. SDK retries are off: failover between
// backends is the resilience layer's job.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider. A 429 matches [llm.ErrRateLimited] and a
// 404 naming the model matches [llm.ErrModelNotFound].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: no messages to answer")
	}
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		status := 0
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		return nil, fmt.Errorf("openai: chat completion: %w", llm.Classify(err, status))
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}

	out := &llm.CompletionResponse{
		Content: strings.TrimSpace(resp.Choices[0].Message.Content),
		Model:   resp.Model,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	if out.Model == "" {
		out.Model = p.model
	}
	return out, nil
}

// Model implements llm.Provider.
func (p *Provider) Model() string { return p.model }

func (p *Provider) buildParams(req llm.CompletionRequest) oai.ChatCompletionNewParams {
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, convertMessage(m))
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// convertMessage sends assistant turns as the assistant and anything else the
// client supplied as the user; only the persona prompt is a system message.
func convertMessage(m types.Message) oai.ChatCompletionMessageParamUnion {
	if m.Role == types.RoleAssistant {
		return oai.AssistantMessage(m.Content)
	}
	return oai.UserMessage(m.Content)
}
