// Package openai talks to the OpenAI chat completions API. It is the
// default model behind both the simulated customer and the coach.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// DefaultModel is used when the configuration does not name a model.
const DefaultModel = "gpt-4o"

var errEmptyRequest = errors.New("request has neither system prompt nor messages")

var _ llm.Provider = (*Provider)(nil)

// Provider is an [llm.Provider] for one OpenAI model.
type Provider struct {
	client oai.Client
	model  string
}

// Option adds a request option to the SDK client built by [New].
type Option func(*[]option.RequestOption)

func withRequestOption(o option.RequestOption) Option {
	return func(opts *[]option.RequestOption) { *opts = append(*opts, o) }
}

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return withRequestOption(option.WithBaseURL(url)) }

// WithOrganization sends the OpenAI-Organization header.
func WithOrganization(org string) Option { return withRequestOption(option.WithOrganization(org)) }

// WithTimeout bounds each HTTP request, including the whole of a stream.
func WithTimeout(d time.Duration) Option {
	return withRequestOption(option.WithHTTPClient(&http.Client{Timeout: d}))
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Model reports which model requests are sent to.
func (p *Provider) Model() string { return p.model }

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities { return llm.CapabilitiesFor(p.model) }

// StreamCompletion implements [llm.Provider]. The request is sent before
// returning so that an unreachable server or a rejected key fails here
// rather than mid-stream.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("openai: stream: %w", err)
	}
	return llm.Relay(ctx, func(emit func(llm.Chunk) bool) error {
		defer stream.Close()
		for stream.Next() {
			choices := stream.Current().Choices
			if len(choices) == 0 {
				continue
			}
			if !emit(llm.Chunk{Text: choices[0].Delta.Content, FinishReason: choices[0].FinishReason}) {
				return nil
			}
		}
		return stream.Err()
	}), nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.params(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: complete: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: complete: response has no choices")
	}
	u := resp.Usage
	return &llm.CompletionResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			PromptTokens:     int(u.PromptTokens),
			CompletionTokens: int(u.CompletionTokens),
			TotalTokens:      int(u.TotalTokens),
		},
	}, nil
}

func (p *Provider) params(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if req.SystemPrompt == "" && len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: %w", errEmptyRequest)
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1),
	}
	if req.SystemPrompt != "" {
		params.Messages = append(params.Messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := message(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		params.Messages = append(params.Messages, msg)
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params, nil
}

func message(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil
	case llm.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unsupported message role %q", m.Role)
}
