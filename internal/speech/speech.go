// Package speech adapts the TTS and STT providers to the conversation loop:
// [Output] turns a customer reply into a playable [Clip] and [Input] turns a
// recorded employee clip into corrected text.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/speech/phonetic"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

var (
	// ErrSynthesis is returned when text cannot be rendered as audio.
	ErrSynthesis = errors.New("speech: synthesis failed")

	// ErrTranscription is returned when a clip cannot be turned into text,
	// including when nothing intelligible was heard.
	ErrTranscription = errors.New("speech: transcription failed")
)

// Clip is an encoded audio clip.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Empty reports whether c carries no audio.
func (c Clip) Empty() bool { return len(c.Data) == 0 }

// Output renders text through a TTS provider.
type Output struct {
	provider tts.Provider
	voice    types.VoiceProfile
	metrics  *observe.Metrics
	name     string
}

// OutputOption configures an [Output].
type OutputOption func(*Output)

// WithOutputMetrics records synthesis latency and outcome on m.
func WithOutputMetrics(m *observe.Metrics, providerName string) OutputOption {
	return func(o *Output) {
		o.metrics = m
		o.name = providerName
	}
}

// NewOutput returns an Output speaking with voice.
func NewOutput(p tts.Provider, voice types.VoiceProfile, opts ...OutputOption) *Output {
	o := &Output{provider: p, voice: voice}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Render synthesises text and collects the whole clip. An empty result is
// an error.
func (o *Output) Render(ctx context.Context, text string) (Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Clip{}, fmt.Errorf("speech: render: empty text: %w", ErrSynthesis)
	}

	start := time.Now()
	clip, err := o.render(ctx, text)
	if o.metrics != nil {
		o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		o.metrics.RecordProviderRequest(ctx, o.name, "tts", observe.Status(err))
		if err != nil {
			o.metrics.RecordProviderError(ctx, o.name, "tts")
		}
	}
	return clip, err
}

func (o *Output) render(ctx context.Context, text string) (Clip, error) {
	in := make(chan string, 1)
	in <- text
	close(in)

	audio, err := o.provider.SynthesizeStream(ctx, in, o.voice)
	if err != nil {
		return Clip{}, fmt.Errorf("speech: render: %w: %w", ErrSynthesis, err)
	}

	var data []byte
	for chunk := range audio {
		data = append(data, chunk...)
	}
	if err := ctx.Err(); err != nil {
		return Clip{}, fmt.Errorf("speech: render: %w: %w", ErrSynthesis, err)
	}
	if len(data) == 0 {
		return Clip{}, fmt.Errorf("speech: render: no audio produced: %w", ErrSynthesis)
	}
	return playable(data, o.provider.MIMEType()), nil
}

// playable wraps raw PCM in a WAV container. Encoded audio is returned as is.
func playable(data []byte, mimeType string) Clip {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil || mt != stt.MIMETypePCM {
		return Clip{Data: data, MIMEType: mimeType}
	}
	rate, _ := strconv.Atoi(params["rate"])
	if rate <= 0 {
		rate = 16000
	}
	channels, _ := strconv.Atoi(params["channels"])
	if channels <= 0 {
		channels = 1
	}
	return Clip{Data: stt.EncodeWAV(data, rate, channels), MIMEType: "audio/wav"}
}

// Input transcribes recorded clips through an STT provider and corrects
// menu item names.
type Input struct {
	provider stt.Provider
	matcher  *phonetic.Matcher
	opts     stt.Options
	metrics  *observe.Metrics
	name     string
}

// InputOption configures an [Input].
type InputOption func(*Input)

// WithLanguage sets the recognition language hint.
func WithLanguage(lang string) InputOption {
	return func(i *Input) { i.opts.Language = lang }
}

// WithCorrector enables menu-name correction of transcripts.
func WithCorrector(m *phonetic.Matcher) InputOption {
	return func(i *Input) { i.matcher = m }
}

// WithVocabulary biases recognition toward the given terms, usually the menu
// item names.
func WithVocabulary(terms []string) InputOption {
	return func(i *Input) { i.opts.Prompt = strings.Join(terms, ", ") }
}

// WithInputMetrics records transcription latency and outcome on m.
func WithInputMetrics(m *observe.Metrics, providerName string) InputOption {
	return func(i *Input) {
		i.metrics = m
		i.name = providerName
	}
}

// NewInput returns an Input backed by p.
func NewInput(p stt.Provider, opts ...InputOption) *Input {
	i := &Input{provider: p}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Transcribe converts clip to text. Empty or silent clips yield
// [ErrTranscription].
func (i *Input) Transcribe(ctx context.Context, clip Clip) (string, error) {
	if clip.Empty() {
		return "", fmt.Errorf("speech: transcribe: empty clip: %w", ErrTranscription)
	}

	start := time.Now()
	rec, err := i.provider.Transcribe(ctx, stt.Audio{Data: clip.Data, MIMEType: clip.MIMEType}, i.opts)
	if i.metrics != nil {
		i.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		i.metrics.RecordProviderRequest(ctx, i.name, "stt", observe.Status(err))
		if err != nil {
			i.metrics.RecordProviderError(ctx, i.name, "stt")
		}
	}
	if err != nil {
		return "", fmt.Errorf("speech: transcribe: %w: %w", ErrTranscription, err)
	}

	text := strings.TrimSpace(rec.Text)
	if text == "" {
		return "", fmt.Errorf("speech: transcribe: nothing recognised: %w", ErrTranscription)
	}

	if i.matcher != nil {
		corrected, corrections := i.matcher.Correct(text)
		for _, c := range corrections {
			slog.Debug("speech: corrected menu item",
				"original", c.Original, "corrected", c.Corrected, "confidence", c.Confidence)
		}
		text = corrected
	}
	return text, nil
}
