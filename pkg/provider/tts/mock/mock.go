// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    Audio:            types.SynthesizedAudio{Data: []byte("mp3"), Format: "mp3"},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/voxpersona/voxpersona/pkg/provider/tts"
	"github.com/voxpersona/voxpersona/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.Request
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned by Synthesize when SynthesizeErr is nil.
	Audio types.SynthesizedAudio

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// Block, when non-nil, makes Synthesize wait until it is closed or ctx is
	// done.
	Block chan struct{}

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// SynthesizeCalls records every invocation of Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// ListVoicesCalls counts invocations of ListVoices.
	ListVoicesCalls int
}

// Synthesize records the call and returns Audio / SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.Request) (types.SynthesizedAudio, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.SynthesizedAudio{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.SynthesizeErr != nil {
		return types.SynthesizedAudio{}, p.SynthesizeErr
	}
	out := p.Audio
	out.Data = append([]byte(nil), p.Audio.Data...)
	return out, nil
}

// ListVoices records the call and returns ListVoicesResult / ListVoicesErr.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	if p.ListVoicesErr != nil {
		return nil, p.ListVoicesErr
	}
	out := make([]types.VoiceProfile, len(p.ListVoicesResult))
	copy(out, p.ListVoicesResult)
	return out, nil
}

// Calls returns a copy of SynthesizeCalls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.SynthesizeCalls))
	copy(out, p.SynthesizeCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.ListVoicesCalls = 0
}
