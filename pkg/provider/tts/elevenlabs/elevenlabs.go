// Package elevenlabs voices the simulated customer through the ElevenLabs
// stream-input WebSocket. Reply text is written as it is generated and MP3
// frames are read back while the customer is still "talking".
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "mp3_44100_128"

	// Stability and similarity used for every customer voice.
	stability       = 0.5
	similarityBoost = 0.75
)

var _ tts.Provider = (*Provider)(nil)

// Provider is a [tts.Provider] backed by ElevenLabs.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	httpClient   *http.Client
}

// Option configures a [Provider].
type Option func(*Provider)

// WithModel selects the ElevenLabs model, e.g. "eleven_multilingual_v2".
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithOutputFormat sets the audio format. pcm_* formats are reported as
// audio/L16, everything else as audio/mpeg.
func WithOutputFormat(format string) Option { return func(p *Provider) { p.outputFormat = format } }

// WithBaseURL points the provider at another API host. The WebSocket URL
// uses the matching ws or wss scheme.
func WithBaseURL(base string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(base, "/") }
}

// WithHTTPClient sets the client for REST calls and the WebSocket dial.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.httpClient = c } }

// New returns a Provider authenticated with apiKey.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: api key is required")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		httpClient:   http.DefaultClient,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// MIMEType implements [tts.Provider].
func (p *Provider) MIMEType() string {
	if strings.HasPrefix(p.outputFormat, "pcm_") {
		return "audio/L16"
	}
	return "audio/mpeg"
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// inputMessage is one frame sent to the socket. The first frame carries
// the key and voice settings; a frame with empty Text ends the input.
type inputMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	APIKey        string         `json:"xi_api_key,omitempty"`
}

type audioResponse struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

func (p *Provider) streamURL(voiceID string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("base url: %w", err)
	}
	u.Scheme = map[string]string{"https": "wss", "http": "ws"}[u.Scheme]
	if u.Scheme == "" {
		return "", fmt.Errorf("base url %q: scheme must be http or https", p.baseURL)
	}
	u.Path = "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	u.RawQuery = url.Values{"model_id": {p.model}, "output_format": {p.outputFormat}}.Encode()
	return u.String(), nil
}

// SynthesizeStream implements [tts.Provider]. The socket is open and
// authenticated before it returns. Frames the server sends that are not
// valid audio are skipped.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice id is required")
	}
	wsURL, err := p.streamURL(voice.ID)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPClient: p.httpClient})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	open := inputMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: stability, SimilarityBoost: similarityBoost, Speed: voice.SpeedFactor},
		APIKey:        p.apiKey,
	}
	if err := send(ctx, conn, open); err != nil {
		conn.Close(websocket.StatusInternalError, "open failed")
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}

	audio := make(chan []byte, 64)
	go func() {
		defer close(audio)
		defer conn.Close(websocket.StatusNormalClosure, "")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return writeText(gctx, conn, text) })
		g.Go(func() error { return readAudio(gctx, conn, audio) })
		_ = g.Wait()
	}()
	return audio, nil
}

func send(ctx context.Context, conn *websocket.Conn, m inputMessage) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// writeText forwards fragments until text closes and then ends the input.
// ElevenLabs holds back a fragment until it sees trailing whitespace.
func writeText(ctx context.Context, conn *websocket.Conn, text <-chan string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fragment, ok := <-text:
			if !ok {
				return send(ctx, conn, inputMessage{})
			}
			if strings.TrimSpace(fragment) == "" {
				continue
			}
			if !strings.HasSuffix(fragment, " ") {
				fragment += " "
			}
			if err := send(ctx, conn, inputMessage{Text: fragment}); err != nil {
				return err
			}
		}
	}
}

// readAudio decodes frames into audio until the final frame. Returning
// errFinal stops the writer too.
func readAudio(ctx context.Context, conn *websocket.Conn, audio chan<- []byte) error {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var resp audioResponse
		if json.Unmarshal(msg, &resp) != nil {
			continue
		}
		if resp.Audio != "" {
			if b, err := base64.StdEncoding.DecodeString(resp.Audio); err == nil {
				select {
				case audio <- b:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if resp.IsFinal {
			return errFinal
		}
	}
}

var errFinal = errors.New("elevenlabs: final frame")
