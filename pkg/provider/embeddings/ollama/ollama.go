// Package ollama embeds text with a local Ollama server, for deployments
// that index the transcript archive without a cloud API key.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
)

// DefaultBaseURL is the address of a locally running Ollama instance.
const DefaultBaseURL = "http://localhost:11434"

// probeTimeout bounds the request that discovers an unknown model's size.
const probeTimeout = 10 * time.Second

// knownSizes lists vector lengths of popular embedding models by name
// fragment, so that the archive can size its table without a round trip.
var knownSizes = map[string]int{
	"nomic-embed-text":  768,
	"mxbai-embed-large": 1024,
	"all-minilm":        384,
	"bge-m3":            1024,
}

var _ embeddings.Provider = (*Provider)(nil)

// Provider is an [embeddings.Provider] for one Ollama model.
type Provider struct {
	client *api.Client
	model  string

	mu   sync.Mutex
	dims int
}

// Option configures a [Provider].
type Option func(*Provider, *http.Client)

// WithTimeout bounds each request to the server.
func WithTimeout(d time.Duration) Option {
	return func(_ *Provider, hc *http.Client) { hc.Timeout = d }
}

// WithDimensions fixes the vector length and skips discovery.
func WithDimensions(n int) Option {
	return func(p *Provider, _ *http.Client) { p.dims = n }
}

// New returns a Provider for model served at baseURL, or at
// [DefaultBaseURL] when baseURL is empty.
func New(baseURL, model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("ollama embeddings: model is required")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: base url: %w", err)
	}

	p := &Provider{model: model}
	hc := &http.Client{}
	for _, o := range opts {
		o(p, hc)
	}
	if p.dims == 0 {
		p.dims = sizeOf(model)
	}
	p.client = api.NewClient(u, hc)
	return p, nil
}

// Embed implements [embeddings.Provider].
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements [embeddings.Provider].
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := p.embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("ollama embeddings: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("ollama embeddings: got %d vectors for %d texts", len(vecs), len(texts))
	}
	return vecs, nil
}

// Dimensions implements [embeddings.Provider]. An unknown model is embedded
// once to learn its size; if that fails 0 is returned and the next call
// tries again.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dims == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		defer cancel()
		if vecs, err := p.embed(ctx, []string{"probe"}); err == nil && len(vecs) > 0 {
			p.dims = len(vecs[0])
		}
	}
	return p.dims
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }

func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{Model: p.model, Input: texts})
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 {
		return nil, errors.New("server returned no embeddings")
	}
	return resp.Embeddings, nil
}

func sizeOf(model string) int {
	name := strings.ToLower(model)
	for fragment, n := range knownSizes {
		if strings.Contains(name, fragment) {
			return n
		}
	}
	return 0
}
