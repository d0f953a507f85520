// Package deepgram provides an STT provider backed by Deepgram's
// pre-recorded transcription endpoint (POST /v1/listen). Each employee clip
// is uploaded whole; raw PCM is wrapped as WAV first.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code used when a request carries
// none (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API host. Used by tests.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(base, "/")
	}
}

// WithHTTPClient replaces the default client (30 s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the clip and returns the top alternative of the first
// channel.
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (types.Recognition, error) {
	if len(audio.Data) == 0 {
		return types.Recognition{}, errors.New("deepgram: empty audio")
	}
	data, filename := audio.Upload()

	reqURL, err := p.buildURL(opts)
	if err != nil {
		return types.Recognition{}, fmt.Errorf("deepgram: build URL: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(data))
	if err != nil {
		return types.Recognition{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", contentType(audio, filename))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Recognition{}, fmt.Errorf("deepgram: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return types.Recognition{}, fmt.Errorf("deepgram: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.Recognition{}, fmt.Errorf("deepgram: decode response: %w", err)
	}
	rec := types.Recognition{
		Duration: time.Duration(out.Metadata.Duration * float64(time.Second)),
		Language: opts.Language,
	}
	if rec.Language == "" {
		rec.Language = p.language
	}
	if len(out.Results.Channels) > 0 && len(out.Results.Channels[0].Alternatives) > 0 {
		rec.Text = strings.TrimSpace(out.Results.Channels[0].Alternatives[0].Transcript)
	}
	return rec, nil
}

// buildURL constructs the listen endpoint URL for a request.
func (p *Provider) buildURL(opts stt.Options) (string, error) {
	u, err := url.Parse(p.baseURL + "/v1/listen")
	if err != nil {
		return "", err
	}

	lang := opts.Language
	if lang == "" {
		lang = p.language
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	// nova-3 takes key terms; older models take boosted keywords.
	param := "keywords"
	if strings.HasPrefix(p.model, "nova-3") {
		param = "keyterm"
	}
	for _, term := range strings.Split(opts.Prompt, ",") {
		if term = strings.TrimSpace(term); term != "" {
			q.Add(param, term)
		}
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func contentType(audio stt.Audio, filename string) string {
	if strings.HasSuffix(filename, ".wav") {
		return "audio/wav"
	}
	if mt, _, err := mime.ParseMediaType(audio.MIMEType); err == nil {
		return mt
	}
	return "application/octet-stream"
}

type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}
