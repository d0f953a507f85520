// Package llm defines the Provider interface for Large Language Model backends.
//
// A provider wraps a remote or local chat model (OpenAI, Anthropic, a local
// Ollama instance, ...) behind one small interface so the chat simulation
// and coaching engines never depend on a vendor SDK.
//
// Implementations must be safe for concurrent use. Channels returned by
// StreamCompletion must be closed by the implementation when the stream ends
// or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/burgerxpress/pkg/types"
)

// FinishReasonError is the FinishReason carried by the final chunk when a
// stream fails after it has started. The chunk's Text holds the error message.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum either SystemPrompt or Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected as a "system" message ahead of Messages.
	SystemPrompt string

	// Messages is the ordered conversation history.
	Messages []types.Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero leaves the
	// provider default in place.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text of this chunk. May be empty.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", or
	// [FinishReasonError].
	FinishReason string
}

// CompletionResponse is returned by the non-streaming Complete method.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// StreamCompletion starts a streamed completion and returns a channel
	// of chunks. The initial error is non-nil only when the stream could not
	// be started; later failures arrive as a chunk whose FinishReason is
	// [FinishReasonError]. The channel is never nil when err is nil and is
	// always closed by the provider.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete sends req and waits for the full response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities returns static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}
