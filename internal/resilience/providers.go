package resilience

import (
	"context"

	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/provider/llm"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
	"github.com/voxpersona/voxpersona/pkg/provider/tts"
	"github.com/voxpersona/voxpersona/pkg/types"
)

// ─── LLM ─────────────────────────────────────────────────────────────────────

// LLMFallback is an [llm.Provider] that fails over across chat backends.
type LLMFallback struct {
	group *Group[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an LLMFallback preferring primary.
func NewLLMFallback(primaryName string, primary llm.Provider, cfg BreakerConfig) *LLMFallback {
	return &LLMFallback{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers another chat backend.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) { f.group.Add(name, p) }

// Complete implements llm.Provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Model reports the primary's model. The response's Model field names the
// backend that actually answered.
func (f *LLMFallback) Model() string { return f.group.Primary().Model() }

// ─── STT ─────────────────────────────────────────────────────────────────────

// STTFallback is an [stt.Provider] that fails over across transcription
// backends.
type STTFallback struct {
	group *Group[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an STTFallback preferring primary.
func NewSTTFallback(primaryName string, primary stt.Provider, cfg BreakerConfig) *STTFallback {
	return &STTFallback{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers another transcription backend.
func (f *STTFallback) AddFallback(name string, p stt.Provider) { f.group.Add(name, p) }

// Transcribe implements stt.Provider.
func (f *STTFallback) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	return Call(ctx, f.group, func(ctx context.Context, p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, clip)
	})
}

// ─── TTS ─────────────────────────────────────────────────────────────────────

// TTSFallback is a [tts.Provider] that fails over across synthesis backends.
// Voice IDs are provider specific, so fallbacks only make sense between
// accounts of the same service.
type TTSFallback struct {
	group *Group[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a TTSFallback preferring primary.
func NewTTSFallback(primaryName string, primary tts.Provider, cfg BreakerConfig) *TTSFallback {
	return &TTSFallback{group: NewGroup(primaryName, primary, cfg)}
}

// AddFallback registers another synthesis backend.
func (f *TTSFallback) AddFallback(name string, p tts.Provider) { f.group.Add(name, p) }

// Synthesize implements tts.Provider.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.Request) (types.SynthesizedAudio, error) {
	return Call(ctx, f.group, func(ctx context.Context, p tts.Provider) (types.SynthesizedAudio, error) {
		return p.Synthesize(ctx, req)
	})
}

// ListVoices implements tts.Provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return Call(ctx, f.group, func(ctx context.Context, p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
