// Package mock is a scripted [llm.Provider] for tests. Every call is
// recorded so tests can inspect the prompts the simulator and coach build.
//
//	p := &mock.Provider{
//	    StreamChunks: []llm.Chunk{{Text: "My order "}, {Text: "was wrong."}},
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Call is one recorded request.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

// Provider replays the configured responses. The zero value streams nothing
// and completes with a nil response.
type Provider struct {
	mu sync.Mutex

	// StreamChunks are sent in order by StreamCompletion unless StreamErr
	// is set.
	StreamChunks []llm.Chunk
	StreamErr    error

	// CompleteFunc, when set, answers Complete instead of CompleteResponse
	// and CompleteErr.
	CompleteResponse *llm.CompletionResponse
	CompleteErr      error
	CompleteFunc     func(req llm.CompletionRequest) (*llm.CompletionResponse, error)

	ModelCapabilities types.ModelCapabilities

	StreamCalls   []Call
	CompleteCalls []Call
}

// StreamCompletion records req and streams a copy of StreamChunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	chunks, err := slices.Clone(p.StreamChunks), p.StreamErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	out := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(out)
		for _, c := range chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Complete records req and returns the configured answer.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	fn, resp, err := p.CompleteFunc, p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return resp, err
}

func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

func (p *Provider) StreamCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StreamCalls)
}

func (p *Provider) CompleteCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Reset forgets recorded calls but keeps the script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StreamCalls, p.CompleteCalls = nil, nil
}
