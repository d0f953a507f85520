// Package types defines the shared types used across all BurgerXpress packages.
//
// Conversation turns, model messages, and recognition results are the common
// currency between providers, engines, the session controller, and the
// persistence layer. Each package keeps its own domain types; only the
// cross-cutting ones live here to avoid circular imports.
package types

import (
	"slices"
	"strings"
	"time"
)

// Role identifies who produced a [Turn].
type Role string

const (
	// RoleEmployee is the trainee practising the conversation.
	RoleEmployee Role = "employee"

	// RoleCustomer is the simulated customer.
	RoleCustomer Role = "customer"
)

// IsValid reports whether r is one of the two conversation roles.
func (r Role) IsValid() bool {
	return r == RoleEmployee || r == RoleCustomer
}

// Label returns the capitalised role name used in transcript files and
// prompts ("Employee" or "Customer").
func (r Role) Label() string {
	switch r {
	case RoleEmployee:
		return "Employee"
	case RoleCustomer:
		return "Customer"
	}
	if r == "" {
		return ""
	}
	s := string(r)
	return strings.ToUpper(s[:1]) + s[1:]
}

// RoleFromLabel parses a transcript label such as "Employee" back into a
// [Role]. Matching is case-insensitive. ok is false for unknown labels.
func RoleFromLabel(label string) (role Role, ok bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "employee":
		return RoleEmployee, true
	case "customer":
		return RoleCustomer, true
	}
	return "", false
}

// Turn is one utterance in a conversation. Turns are never modified after
// they are appended to a [Transcript].
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the chronologically ordered list of turns for one session.
type Transcript []Turn

// Clone returns an independent copy of t. Callers that hand a transcript to
// a long-running operation use it to freeze the conversation at that point.
func (t Transcript) Clone() Transcript {
	return slices.Clone(t)
}

// Count returns the number of turns spoken by role.
func (t Transcript) Count(role Role) int {
	n := 0
	for _, turn := range t {
		if turn.Role == role {
			n++
		}
	}
	return n
}

// Lines renders the transcript as "Label: content" lines, one per turn.
func (t Transcript) Lines() []string {
	lines := make([]string, 0, len(t))
	for _, turn := range t {
		lines = append(lines, turn.Role.Label()+": "+turn.Content)
	}
	return lines
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// VoiceProfile selects the voice used by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g. an ElevenLabs voice
	// ID or an OpenAI voice name such as "alloy").
	ID string

	// Name is a human-readable display name.
	Name string

	// Provider names the TTS backend this voice belongs to.
	Provider string

	// SpeedFactor adjusts speaking rate in the range [0.25, 4.0]. Zero means
	// the provider default.
	SpeedFactor float64

	// Metadata holds arbitrary provider-specific labels.
	Metadata map[string]string
}

// Recognition is the result of transcribing one recorded clip.
type Recognition struct {
	// Text is the transcribed speech.
	Text string

	// Language is the detected or requested language code, when reported.
	Language string

	// Duration is the length of the recorded audio, when reported.
	Duration time.Duration
}
