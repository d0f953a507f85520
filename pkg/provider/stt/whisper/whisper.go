// Package whisper transcribes trainee speech with a self-hosted whisper.cpp
// server. Clips go to POST /inference as multipart forms; raw PCM is wrapped
// as WAV first, and near-silent PCM is answered without a request.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	rec, err := p.Transcribe(ctx, stt.Audio{Data: pcm, MIMEType: stt.MIMETypePCM}, stt.Options{})
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// silenceRMS is the energy, in 16-bit sample units, below which a PCM clip
// counts as silence.
const silenceRMS = 300.0

var _ stt.Provider = (*Provider)(nil)

// Provider is an [stt.Provider] for one whisper.cpp server.
type Provider struct {
	endpoint   string
	model      string
	language   string
	silence    float64
	httpClient *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use. Empty leaves the
// server's startup model in place.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the language used when a request names none.
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithSilenceThreshold changes the silence cut-off. Zero sends every clip.
func WithSilenceThreshold(rms float64) Option { return func(p *Provider) { p.silence = rms } }

// WithHTTPClient replaces the default 30 s client.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.httpClient = c } }

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server url is required")
	}
	p := &Provider{
		endpoint:   strings.TrimRight(serverURL, "/") + "/inference",
		language:   "en",
		silence:    silenceRMS,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements [stt.Provider].
func (p *Provider) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (types.Recognition, error) {
	if len(audio.Data) == 0 {
		return types.Recognition{}, errors.New("whisper: empty audio")
	}
	rec := types.Recognition{Language: orDefault(opts.Language, p.language), Duration: audio.Duration()}
	if audio.IsPCM() && p.silence > 0 && stt.RMS(audio.Data) < p.silence {
		return rec, nil
	}

	body, contentType, err := p.form(audio, rec.Language, opts.Prompt)
	if err != nil {
		return types.Recognition{}, fmt.Errorf("whisper: build form: %w", err)
	}
	text, err := p.post(ctx, body, contentType)
	if err != nil {
		return types.Recognition{}, fmt.Errorf("whisper: inference: %w", err)
	}
	rec.Text = strings.TrimSpace(text)
	return rec, nil
}

func (p *Provider) form(audio stt.Audio, lang, prompt string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	data, filename := audio.Upload()
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(data); err != nil {
		return nil, "", err
	}
	for _, f := range [][2]string{
		{"response_format", "json"},
		{"language", lang},
		{"model", p.model},
		{"prompt", prompt},
	} {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

func (p *Provider) post(ctx context.Context, body io.Reader, contentType string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("status %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	return out.Text, nil
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
