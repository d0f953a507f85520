// Package stt defines the Provider interface for Speech-to-Text backends.
//
// Voice input in the trainer is push-to-talk: the browser records one clip
// per employee utterance and uploads it whole, so providers transcribe a
// complete clip per call instead of holding a streaming session open.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"mime"
	"time"

	"github.com/MrWong99/burgerxpress/pkg/types"
)

// MIMETypePCM marks raw 16-bit signed little-endian PCM. Providers wrap such
// clips in a WAV container before upload.
const MIMETypePCM = "audio/L16"

// Audio is one recorded clip.
type Audio struct {
	// Data is the encoded clip, or raw PCM when MIMEType is [MIMETypePCM].
	Data []byte

	// MIMEType is the container type reported by the recorder, e.g.
	// "audio/webm" or "audio/wav".
	MIMEType string

	// SampleRate and Channels describe raw PCM. They are ignored for encoded
	// clips.
	SampleRate int
	Channels   int
}

// IsPCM reports whether a holds raw PCM samples.
func (a Audio) IsPCM() bool {
	mt, _, _ := mime.ParseMediaType(a.MIMEType)
	return mt == MIMETypePCM
}

// Upload returns the bytes and filename to send to a file-based
// transcription endpoint. Raw PCM is wrapped as WAV; other clips are passed
// through with an extension matching their MIME type.
func (a Audio) Upload() (data []byte, filename string) {
	if a.IsPCM() {
		sr, ch := a.SampleRate, a.Channels
		if sr <= 0 {
			sr = 16000
		}
		if ch <= 0 {
			ch = 1
		}
		return EncodeWAV(a.Data, sr, ch), "audio.wav"
	}
	mt, _, _ := mime.ParseMediaType(a.MIMEType)
	switch mt {
	case "audio/webm":
		return a.Data, "audio.webm"
	case "audio/ogg":
		return a.Data, "audio.ogg"
	case "audio/mpeg", "audio/mp3":
		return a.Data, "audio.mp3"
	case "audio/mp4", "audio/m4a", "audio/x-m4a":
		return a.Data, "audio.m4a"
	default:
		return a.Data, "audio.wav"
	}
}

// Duration returns the clip length for raw PCM and zero otherwise.
func (a Audio) Duration() time.Duration {
	if !a.IsPCM() {
		return 0
	}
	return PCMDuration(len(a.Data), a.SampleRate, a.Channels)
}

// Options carries per-request recognition hints.
type Options struct {
	// Language is an ISO-639-1 code ("en"). Empty lets the provider detect it.
	Language string

	// Prompt biases recognition toward the given vocabulary, e.g. menu item
	// names.
	Prompt string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one clip to text. An empty Text with a nil error
	// means the provider heard nothing.
	Transcribe(ctx context.Context, audio Audio, opts Options) (types.Recognition, error)
}
