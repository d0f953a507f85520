// Package mock provides a test double for the stt.Provider interface.
//
//	p := &mock.Provider{Result: types.Recognition{Text: "one cheeseburger"}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Call records a single Transcribe invocation.
type Call struct {
	Audio stt.Audio
	Opts  stt.Options
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil.
	Result types.Recognition

	// Err, if non-nil, is returned by Transcribe.
	Err error

	Calls []Call
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(_ context.Context, audio stt.Audio, opts stt.Options) (types.Recognition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, Call{Audio: audio, Opts: opts})
	if p.Err != nil {
		return types.Recognition{}, p.Err
	}
	return p.Result, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
