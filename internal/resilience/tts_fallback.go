package resilience

import (
	"context"

	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// TTSFallback is a [tts.Provider] that fails over between synthesis
// backends. The backends should produce the same container format, since
// MIMEType reports the primary's.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// SynthesizeStream implements tts.Provider. A backend that fails to start
// must not have consumed the text channel, otherwise the next backend sees
// only the rest of it.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices implements tts.Provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// MIMEType implements tts.Provider.
func (f *TTSFallback) MIMEType() string {
	return f.group.Primary().MIMEType()
}
