// Package mock provides a test double for the embeddings.Provider interface.
//
// Without a configured result the mock derives a deterministic vector from
// the text, so similarity searches in tests behave predictably.
package mock

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
)

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// Vectors maps exact input texts to fixed vectors.
	Vectors map[string][]float32

	// Err, if non-nil, is returned by Embed and EmbedBatch.
	Err error

	// Dims is the vector length; zero means 8.
	Dims int

	Model string

	// Texts records every text submitted, in order.
	Texts []string
}

func (p *Provider) dims() int {
	if p.Dims <= 0 {
		return 8
	}
	return p.Dims
}

func (p *Provider) vector(text string) []float32 {
	if v, ok := p.Vectors[text]; ok {
		return v
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, p.dims())
	for i := range vec {
		vec[i] = float32((seed>>(uint(i)%64))&0xFF) / 255
	}
	return vec
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Texts = append(p.Texts, texts...)
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.vector(t)
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.dims() }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string {
	if p.Model == "" {
		return "mock-embed"
	}
	return p.Model
}

var _ embeddings.Provider = (*Provider)(nil)
