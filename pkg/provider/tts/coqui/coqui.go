// Package coqui provides a TTS provider backed by a self-hosted Coqui server,
// for deployments that keep customer voices off third-party clouds.
//
// Two server APIs are supported:
//
//   - APIModeStandard (default): the stock Coqui TTS server. Synthesis is
//     GET /api/tts with query parameters; voices come from GET /details.
//   - APIModeXTTS: the XTTS v2 API server. Synthesis is POST /tts_to_audio/
//     with a JSON body; voices come from GET /studio_speakers.
//
// Both servers answer one WAV file per request. SynthesizeStream collects the
// customer line, splits it into sentences, synthesises them concurrently and
// emits mono 16-bit PCM at a fixed rate in sentence order. [Provider.MIMEType]
// reports that rate so the caller can wrap the clip for playback.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	audio, err := p.SynthesizeStream(ctx, textCh, voice)
package coqui

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

const (
	defaultLanguage   = "en"
	defaultTimeout    = 30 * time.Second
	defaultSampleRate = 22050

	xttsEndpoint     = "/tts_to_audio/"
	speakersEndpoint = "/studio_speakers"
	apiTTSEndpoint   = "/api/tts"
	detailsEndpoint  = "/details"

	// parallel bounds the in-flight sentence requests of one reply.
	parallel = 4

	pcmChunkSize = 4096
)

// APIMode selects which Coqui server API the provider targets.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithAPIMode selects the server API. Defaults to [APIModeStandard].
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) {
		p.apiMode = mode
	}
}

// WithSampleRate sets the rate of the emitted PCM. Server output at another
// rate is resampled. Defaults to 22050 Hz.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		if rate > 0 {
			p.sampleRate = rate
		}
	}
}

// Provider implements tts.Provider backed by a Coqui TTS server. It is safe
// for concurrent use.
type Provider struct {
	serverURL  string
	language   string
	apiMode    APIMode
	sampleRate int
	httpClient *http.Client
}

// New creates a Provider for the server at serverURL
// (e.g., "http://localhost:5002").
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		sampleRate: defaultSampleRate,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode != APIModeStandard && p.apiMode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.apiMode)
	}
	return p, nil
}

// MIMEType reports raw mono PCM at the configured rate.
func (p *Provider) MIMEType() string {
	return fmt.Sprintf("audio/L16;rate=%d;channels=1", p.sampleRate)
}

// SynthesizeStream reads the whole line from text, then synthesises it
// sentence by sentence. The returned channel is closed when all audio has
// been sent, when ctx is cancelled or at the first failed sentence.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" && p.apiMode == APIModeXTTS {
		return nil, errors.New("coqui: voice ID is required in xtts mode")
	}

	out := make(chan []byte, 64)
	go func() {
		defer close(out)

		var buf strings.Builder
		for {
			select {
			case <-ctx.Done():
				return
			case frag, ok := <-text:
				if !ok {
					p.emit(ctx, splitSentences(buf.String()), voice, out)
					return
				}
				buf.WriteString(frag)
			}
		}
	}()
	return out, nil
}

func (p *Provider) emit(ctx context.Context, sentences []string, voice types.VoiceProfile, out chan<- []byte) {
	if len(sentences) == 0 {
		return
	}
	pcm := make([][]byte, len(sentences))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, s := range sentences {
		g.Go(func() error {
			b, err := p.synthesize(gctx, s, voice)
			pcm[i] = b
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return
	}

	for _, b := range pcm {
		for chunk := range slices.Chunk(b, pcmChunkSize) {
			select {
			case out <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}
}

// synthesize fetches one sentence and returns mono PCM at p.sampleRate.
func (p *Provider) synthesize(ctx context.Context, sentence string, voice types.VoiceProfile) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	switch p.apiMode {
	case APIModeXTTS:
		body, _ := json.Marshal(xttsRequest{Text: sentence, SpeakerWav: voice.ID, Language: p.language})
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		q := url.Values{}
		q.Set("text", sentence)
		if voice.ID != "" {
			q.Set("speaker_id", voice.ID)
		}
		if p.language != "" {
			q.Set("language_id", p.language)
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+q.Encode(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coqui: synthesize: unexpected status %d", resp.StatusCode)
	}
	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read audio: %w", err)
	}

	info, err := parseWAV(wav)
	if err != nil {
		return nil, err
	}
	pcm := wav[info.DataOffset:]
	if info.Channels == 2 {
		pcm = downmix(pcm)
	}
	return resampleMono16(pcm, info.SampleRate, p.sampleRate), nil
}

// ListVoices returns the speakers the server offers. A single-speaker
// standard model is reported as one voice named after the model.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	if p.apiMode == APIModeXTTS {
		var raw map[string]json.RawMessage
		if err := p.getJSON(ctx, speakersEndpoint, &raw); err != nil {
			return nil, err
		}
		names := make([]string, 0, len(raw))
		for name := range raw {
			names = append(names, name)
		}
		slices.Sort(names)
		return profiles(names, "studio", ""), nil
	}

	var details struct {
		ModelName string   `json:"model_name"`
		Speakers  []string `json:"speakers"`
	}
	if err := p.getJSON(ctx, detailsEndpoint, &details); err != nil {
		return nil, err
	}
	if len(details.Speakers) > 0 {
		speakers := slices.Sorted(slices.Values(details.Speakers))
		return profiles(speakers, "speaker", details.ModelName), nil
	}
	name := details.ModelName
	if name == "" {
		name = "default"
	}
	return profiles([]string{name}, "single-speaker", name), nil
}

func (p *Provider) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("coqui: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("coqui: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("coqui: GET %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("coqui: decode %s: %w", path, err)
	}
	return nil
}

func profiles(names []string, kind, model string) []types.VoiceProfile {
	out := make([]types.VoiceProfile, 0, len(names))
	for _, n := range names {
		md := map[string]string{"type": kind}
		if model != "" {
			md["model_name"] = model
		}
		out = append(out, types.VoiceProfile{ID: n, Name: n, Provider: "coqui", Metadata: md})
	}
	return out
}

type xttsRequest struct {
	Text       string `json:"text"`
	SpeakerWav string `json:"speaker_wav"`
	Language   string `json:"language"`
}

// splitSentences cuts s after '.', '!' or '?' when followed by whitespace
// or the end of input, so "3.50" and "Dr.Pepper" stay whole.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(s) && !unicode.IsSpace(rune(s[i+1])) {
			continue
		}
		if part := strings.TrimSpace(s[start : i+1]); part != "" {
			out = append(out, part)
		}
		start = i + 1
	}
	if rest := strings.TrimSpace(s[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// downmix averages interleaved stereo 16-bit PCM into mono.
func downmix(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// resampleMono16 resamples 16-bit mono PCM using linear interpolation.
func resampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate == dstRate || srcRate <= 0 || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	sample := func(i int) float64 {
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := sample(idx)
		s1 := s0
		if idx+1 < srcSamples {
			s1 = sample(idx + 1)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s0*(1-frac)+s1*frac)))
	}
	return out
}

type wavInfo struct {
	DataOffset int
	SampleRate int
	Channels   int
}

// parseWAV walks the RIFF chunks of wav and locates the PCM data.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("coqui: response is not a RIFF/WAVE file")
	}

	info := wavInfo{SampleRate: defaultSampleRate, Channels: 1}
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		switch id {
		case "fmt ":
			if size >= 16 && offset+8+16 <= len(wav) {
				f := wav[offset+8:]
				info.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
				info.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			}
		case "data":
			info.DataOffset = offset + 8
			return info, nil
		}
		offset += 8 + size + size%2
	}
	return wavInfo{}, errors.New("coqui: WAV response missing data chunk")
}
