package resilience

import (
	"context"

	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// STTFallback is an [stt.Provider] that fails over between transcription
// backends.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe implements stt.Provider.
func (f *STTFallback) Transcribe(ctx context.Context, audio stt.Audio, opts stt.Options) (types.Recognition, error) {
	return ExecuteWithResult(ctx, f.group, func(p stt.Provider) (types.Recognition, error) {
		return p.Transcribe(ctx, audio, opts)
	})
}
