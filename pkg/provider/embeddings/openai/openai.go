// Package openai embeds transcript chunks and search queries with the
// OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
)

// DefaultModel is used when the configuration does not name a model.
const DefaultModel = oai.EmbeddingModelTextEmbedding3Small

// maxInputs is the API's limit on inputs per request. Larger batches are
// split.
const maxInputs = 2048

var _ embeddings.Provider = (*Provider)(nil)

// Provider is an [embeddings.Provider] for one OpenAI model.
type Provider struct {
	client  oai.Client
	model   string
	dims    int
	reqOpts []option.RequestOption
}

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.reqOpts = append(p.reqOpts, option.WithBaseURL(url)) }
}

// WithTimeout bounds each HTTP request.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.reqOpts = append(p.reqOpts, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// WithDimensions asks text-embedding-3 models for n-dimensional vectors so
// they fit a fixed pgvector column.
func WithDimensions(n int) Option {
	return func(p *Provider) { p.dims = n }
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai embeddings: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	p := &Provider{model: model, reqOpts: []option.RequestOption{option.WithAPIKey(apiKey)}}
	for _, o := range opts {
		o(p)
	}
	p.client = oai.NewClient(p.reqOpts...)
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
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxInputs {
		batch := texts[start:min(start+maxInputs, len(texts))]
		vecs, err := p.embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %w", err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// embed sends one request. The API may answer out of order, so vectors are
// placed by their index.
func (p *Provider) embed(ctx context.Context, texts []string) ([][]float32, error) {
	params := oai.EmbeddingNewParams{
		Model: p.model,
		Input: oai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if p.dims > 0 {
		params.Dimensions = param.NewOpt(int64(p.dims))
	}
	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		i := int(d.Index)
		if i < 0 || i >= len(texts) || vecs[i] != nil {
			return nil, fmt.Errorf("bad vector index %d", d.Index)
		}
		vecs[i] = make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vecs[i][j] = float32(v)
		}
	}
	return vecs, nil
}

// Dimensions implements [embeddings.Provider].
func (p *Provider) Dimensions() int {
	switch {
	case p.dims > 0:
		return p.dims
	case strings.Contains(strings.ToLower(p.model), "text-embedding-3-large"):
		return 3072
	}
	return 1536
}

// ModelID implements [embeddings.Provider].
func (p *Provider) ModelID() string { return p.model }
