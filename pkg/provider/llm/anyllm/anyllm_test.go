package anyllm

import (
	"context"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/types"
)

// ── buildParams ──────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "mistral-small-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a warm and friendly AI assistant.",
		Messages: []types.Message{
			{Role: types.RoleUser, Content: "Hi"},
			{Role: types.RoleAssistant, Content: "Hello!"},
			{Role: types.RoleUser, Content: "How are you?"},
		},
	})

	if params.Model != "mistral-small-latest" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if got := params.Messages[3].ContentString(); got != "How are you?" {
		t.Errorf("last content = %q", got)
	}
}

func TestBuildParams_NoSystemPrompt(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Hi"}},
	})
	if len(params.Messages) != 1 || params.Messages[0].Role != types.RoleUser {
		t.Fatalf("messages = %+v", params.Messages)
	}
}

func TestBuildParams_Sampling(t *testing.T) {
	p := &Provider{model: "m"}

	params := p.buildParams(llm.CompletionRequest{Temperature: 0.7, MaxTokens: 500})
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v, want 0.7", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 500 {
		t.Errorf("max tokens = %v, want 500", params.MaxTokens)
	}

	params = p.buildParams(llm.CompletionRequest{})
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Error("zero values should leave provider defaults in place")
	}
}

func TestBuildParams_RoleMapping(t *testing.T) {
	p := &Provider{model: "m"}
	params := p.buildParams(llm.CompletionRequest{Messages: []types.Message{
		{Role: types.RoleAssistant, Content: "a"},
		{Role: "narrator", Content: "b"},
		{Role: types.RoleSystem, Content: "c"},
	}})
	want := []string{types.RoleAssistant, types.RoleUser, types.RoleUser}
	for i, m := range params.Messages {
		if m.Role != want[i] {
			t.Errorf("message %d role = %q, want %q", i, m.Role, want[i])
		}
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Errors(t *testing.T) {
	tests := []struct {
		name, backend, model string
	}{
		{"empty backend", "", "mistral-small-latest"},
		{"unsupported", "fakecloud", "some-model"},
		{"no default model", "anthropic", ""},
		{"ollama needs a model", "ollama", ""},
	}
	for _, tt := range tests {
		if _, err := New(tt.backend, tt.model, anyllmlib.WithAPIKey("dummy")); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_Models(t *testing.T) {
	tests := []struct {
		name      string
		fn        func() (*Provider, error)
		wantModel string
	}{
		{"mistral default", func() (*Provider, error) {
			return New("Mistral", "", anyllmlib.WithAPIKey("test-key"))
		}, "mistral-large-latest"},
		{"mistral explicit", func() (*Provider, error) {
			return New("mistral", "mistral-small-latest", anyllmlib.WithAPIKey("test-key"))
		}, "mistral-small-latest"},
		{"ollama", func() (*Provider, error) { return NewOllama("llama3") }, "llama3"},
		{"openai default", func() (*Provider, error) { return New("openai", "", anyllmlib.WithAPIKey("sk-test")) }, "gpt-4o-mini"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.fn()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.Model() != tt.wantModel {
				t.Errorf("Model() = %q, want %q", p.Model(), tt.wantModel)
			}
		})
	}
}

func TestSupported(t *testing.T) {
	got := Supported()
	if len(got) != 7 || got[0] != "anthropic" || got[len(got)-1] != "openai" {
		t.Errorf("Supported() = %v", got)
	}
	if DefaultModel("MISTRAL") != "mistral-large-latest" || DefaultModel("groq") != "" {
		t.Error("DefaultModel lookup is off")
	}
}

func TestComplete_RequiresMessages(t *testing.T) {
	p := &Provider{name: "mistral", model: "m"}
	if _, err := p.Complete(context.Background(), llm.CompletionRequest{SystemPrompt: "hi"}); err == nil {
		t.Fatal("expected error without messages")
	}
}
