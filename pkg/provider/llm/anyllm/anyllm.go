// Package anyllm adapts github.com/mozilla-ai/any-llm-go so the customer
// simulator and the coach can run on Anthropic, Gemini, a local Ollama and
// the other vendors it supports. It is the usual secondary model in the
// fallback chain.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps a vendor name to its any-llm-go constructor.
var backends = map[string]constructor{
	"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
	"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
	"gemini":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return gemini.New(o...) },
	"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
	"deepseek":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return deepseek.New(o...) },
	"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
	"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	"llamacpp":  func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamacpp.New(o...) },
	"llamafile": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return llamafile.New(o...) },
}

// Backends returns the vendor names accepted by [New], sorted.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

var _ llm.Provider = (*Provider)(nil)

// Provider is an [llm.Provider] for one model on one any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New returns a Provider for model on the named vendor. Without
// [anyllmlib.WithAPIKey] each backend reads its usual environment variable
// (ANTHROPIC_API_KEY, GEMINI_API_KEY and so on).
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("anyllm: model is required")
	}
	build, ok := backends[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", vendor, strings.Join(Backends(), ", "))
	}
	backend, err := build(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", vendor, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities { return llm.CapabilitiesFor(p.model) }

// StreamCompletion implements [llm.Provider]. Backend errors arrive as the
// final [llm.FinishReasonError] chunk.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	chunks, errs := p.backend.CompletionStream(ctx, p.params(req))
	return llm.Relay(ctx, func(emit func(llm.Chunk) bool) error {
		for c := range chunks {
			if len(c.Choices) == 0 {
				continue
			}
			if !emit(llm.Chunk{Text: c.Choices[0].Delta.Content, FinishReason: c.Choices[0].FinishReason}) {
				return nil
			}
		}
		return <-errs
	}), nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.params(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: complete: response has no choices")
	}
	out := &llm.CompletionResponse{Content: resp.Choices[0].Message.ContentString()}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

func (p *Provider) params(req llm.CompletionRequest) anyllmlib.CompletionParams {
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: make([]anyllmlib.Message, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		params.Messages = append(params.Messages, anyllmlib.Message{Role: m.Role, Content: m.Content, Name: m.Name})
	}
	if t := req.Temperature; t != 0 {
		params.Temperature = &t
	}
	if n := req.MaxTokens; n > 0 {
		params.MaxTokens = &n
	}
	return params
}
