// Package mock is a scripted [tts.Provider] for tests.
//
//	p := &mock.Provider{SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")}}
package mock

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// SynthesizeCall is one recorded synthesis: the voice asked for and the
// whole text that arrived on the input channel.
type SynthesizeCall struct {
	Voice types.VoiceProfile
	Text  string
}

var _ tts.Provider = (*Provider)(nil)

// Provider answers every synthesis with SynthesizeChunks once its text
// channel is closed.
type Provider struct {
	mu sync.Mutex

	SynthesizeChunks [][]byte
	SynthesizeErr    error

	ListVoicesResult []types.VoiceProfile
	ListVoicesErr    error

	// Mime is reported by MIMEType; empty means "audio/mpeg".
	Mime string

	calls []SynthesizeCall
}

// SynthesizeStream reads all of text before emitting any audio. A
// configured SynthesizeErr is returned without reading text.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	chunks, err := slices.Clone(p.SynthesizeChunks), p.SynthesizeErr
	if err != nil {
		p.calls = append(p.calls, SynthesizeCall{Voice: voice})
	}
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, len(chunks))
	go func() {
		defer close(out)
		var b strings.Builder
		for s := range text {
			b.WriteString(s)
		}
		p.mu.Lock()
		p.calls = append(p.calls, SynthesizeCall{Voice: voice, Text: b.String()})
		p.mu.Unlock()

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

func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ListVoicesResult, p.ListVoicesErr
}

func (p *Provider) MIMEType() string {
	if p.Mime == "" {
		return "audio/mpeg"
	}
	return p.Mime
}

// Calls returns the syntheses seen so far. A stream's call is recorded
// once its text channel has been drained.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}
