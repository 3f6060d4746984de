package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
	"github.com/voxpersona/voxpersona/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// exists under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds a provider of kind T from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

// Registry maps provider names to factories per provider kind. Safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm map[string]Factory[llm.Provider]
	stt map[string]Factory[stt.Provider]
	tts map[string]Factory[tts.Provider]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		llm: make(map[string]Factory[llm.Provider]),
		stt: make(map[string]Factory[stt.Provider]),
		tts: make(map[string]Factory[tts.Provider]),
	}
}

// RegisterLLM registers a chat provider factory, replacing any previous one
// under name.
func (r *Registry) RegisterLLM(name string, f Factory[llm.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = f
}

// RegisterSTT registers a transcription provider factory.
func (r *Registry) RegisterSTT(name string, f Factory[stt.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = f
}

// RegisterTTS registers a synthesis provider factory.
func (r *Registry) RegisterTTS(name string, f Factory[tts.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = f
}

// CreateLLM builds the chat provider named by entry.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateSTT builds the transcription provider named by entry.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateTTS builds the synthesis provider named by entry.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	return create(r, r.tts, "tts", entry)
}

// Names returns the registered names for kind ("llm", "stt" or "tts").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	switch kind {
	case "llm":
		for n := range r.llm {
			out = append(out, n)
		}
	case "stt":
		for n := range r.stt {
			out = append(out, n)
		}
	case "tts":
		for n := range r.tts {
			out = append(out, n)
		}
	}
	return out
}

func create[T any](r *Registry, m map[string]Factory[T], kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	f, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	p, err := f(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", kind, entry.Name, err)
	}
	return p, nil
}
