// Package openai transcribes trainee speech with the OpenAI audio
// transcription endpoint.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// DefaultModel is used when the configuration does not name a model.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for one OpenAI transcription model.
type Provider struct {
	client oai.Client
	model  string
}

// Option adds a request option to the SDK client built by [New].
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithTimeout bounds each upload.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: api key is required")
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

// Transcribe implements [stt.Provider]. Raw PCM is uploaded as WAV.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (types.Recognition, error) {
	if len(audio.Data) == 0 {
		return types.Recognition{}, errors.New("openai stt: empty audio")
	}
	resp, err := p.client.Audio.Transcriptions.New(ctx, p.params(audio, opts))
	if err != nil {
		return types.Recognition{}, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return types.Recognition{
		Text:     strings.TrimSpace(resp.Text),
		Language: opts.Language,
		Duration: audio.Duration(),
	}, nil
}

func (p *Provider) params(audio stt.Audio, opts stt.Options) oai.AudioTranscriptionNewParams {
	data, filename := audio.Upload()
	mime := audio.MIMEType
	if mime == "" || audio.IsPCM() {
		mime = "audio/wav"
	}
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), filename, mime),
		Model: oai.AudioModel(p.model),
	}
	if opts.Language != "" {
		params.Language = param.NewOpt(opts.Language)
	}
	if opts.Prompt != "" {
		params.Prompt = param.NewOpt(opts.Prompt)
	}
	return params
}
