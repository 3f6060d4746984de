// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to verify which clips the turn pipeline uploads and to feed
// controlled transcripts or failures.
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "hello"}}
//	tr, _ := p.Transcribe(ctx, clip)
package mock

import (
	"context"
	"sync"

	"github.com/voxpersona/voxpersona/pkg/audio"
	"github.com/voxpersona/voxpersona/pkg/provider/stt"
)

var _ stt.Provider = (*Provider)(nil)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx  context.Context
	Clip audio.Clip
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Block, when non-nil, makes Transcribe wait until it is closed or ctx is
	// done.
	Block chan struct{}

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns Result / Err.
func (p *Provider) Transcribe(ctx context.Context, clip audio.Clip) (stt.Transcript, error) {
	p.mu.Lock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Clip: clip.Clone()})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return stt.Transcript{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return stt.Transcript{}, p.Err
	}
	return p.Result, nil
}

// Calls returns a copy of TranscribeCalls.
func (p *Provider) Calls() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]TranscribeCall, len(p.TranscribeCalls))
	copy(out, p.TranscribeCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}
