// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests the turn pipeline
// sends and to feed controlled replies without a live model.
//
// Example:
//
//	p := &mock.Provider{
//	    CompleteResponse: &llm.CompletionResponse{Content: "Hello!"},
//	}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxpersona/voxpersona/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider.
// Set Err fields to inject errors.
type Provider struct {
	mu sync.Mutex

	// CompleteResponse is returned by Complete. When nil, Complete returns a
	// response echoing nothing with Model set to ModelName.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned as the error from Complete.
	CompleteErr error

	// Block, when non-nil, makes Complete wait until it is closed or ctx is
	// done. Use it to hold a turn in the thinking state.
	Block chan struct{}

	// ModelName is returned by Model.
	ModelName string

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns CompleteResponse / CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	if p.CompleteResponse == nil {
		return &llm.CompletionResponse{Model: p.ModelName}, nil
	}
	resp := *p.CompleteResponse
	return &resp, nil
}

// Model returns ModelName.
func (p *Provider) Model() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelName
}

// Calls returns a copy of CompleteCalls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears all recorded calls.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}
