// Package openai voices the simulated customer with the OpenAI speech API.
// The endpoint takes the whole input at once, so the reply is buffered
// until its text channel closes and the MP3 body is then relayed in chunks.
package openai

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

const (
	DefaultModel = "tts-1"
	DefaultVoice = "alloy"

	chunkSize = 16 * 1024
)

// voices is the built-in catalogue; the API has no listing endpoint.
var voices = []string{"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

var _ tts.Provider = (*Provider)(nil)

// Provider is a [tts.Provider] for one OpenAI speech model.
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

// WithHTTPClient sets the client the SDK sends requests with.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithHTTPClient(hc)) }
}

// New returns a Provider for model, or [DefaultModel] when model is empty.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: api key is required")
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

// MIMEType implements [tts.Provider].
func (p *Provider) MIMEType() string { return "audio/mpeg" }

// SynthesizeStream implements [tts.Provider]. Nothing is sent for a reply
// that is only whitespace. A failed request ends the stream without audio.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	out := make(chan []byte, 8)
	go func() {
		defer close(out)
		input, ok := gather(ctx, text)
		if !ok || input == "" {
			return
		}
		body, err := p.speech(ctx, input, voice)
		if err != nil {
			slog.WarnContext(ctx, "openai tts: speech request failed", "err", err)
			return
		}
		defer body.Close()
		relay(ctx, body, out)
	}()
	return out, nil
}

func (p *Provider) speech(ctx context.Context, input string, voice types.VoiceProfile) (io.ReadCloser, error) {
	id := voice.ID
	if id == "" {
		id = DefaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          input,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(id),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
	}
	if voice.SpeedFactor > 0 {
		params.Speed = param.NewOpt(voice.SpeedFactor)
	}
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// gather joins fragments until text closes. It reports false when ctx ends
// first.
func gather(ctx context.Context, text <-chan string) (string, bool) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", false
		case fragment, ok := <-text:
			if !ok {
				return strings.TrimSpace(sb.String()), true
			}
			sb.WriteString(fragment)
		}
	}
}

// relay copies r to out in chunkSize pieces.
func relay(ctx context.Context, r io.Reader, out chan<- []byte) {
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			select {
			case out <- buf[:n]:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// ListVoices implements [tts.Provider].
func (p *Provider) ListVoices(context.Context) ([]types.VoiceProfile, error) {
	profiles := make([]types.VoiceProfile, len(voices))
	for i, v := range voices {
		profiles[i] = types.VoiceProfile{ID: v, Name: strings.ToUpper(v[:1]) + v[1:], Provider: "openai"}
	}
	return profiles, nil
}
