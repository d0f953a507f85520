// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (OpenAI speech, ElevenLabs)
// behind a uniform streaming interface: text fragments go in on a channel and
// encoded audio comes out on another as it becomes available.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"

	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits encoded audio chunks as they are produced.
	//
	// The returned channel is closed when all text has been synthesised, when
	// ctx is cancelled, or when the backend fails mid-stream. Callers must
	// drain it. A non-nil error is returned only if the stream cannot start.
	SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error)

	// ListVoices returns the voices available from this provider.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// MIMEType is the media type of the concatenated audio chunks, e.g.
	// "audio/mpeg".
	MIMEType() string
}
