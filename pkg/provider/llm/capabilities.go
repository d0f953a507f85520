package llm

import (
	"strings"

	"github.com/MrWong99/burgerxpress/pkg/types"
)

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// family describes one model line. Prefixes are matched in table order, so
// more specific names come first.
type family struct {
	prefix string
	window int
	output int
}

var families = []family{
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-4-turbo", 128_000, 4_096},
	{"gpt-4", 8_192, 4_096},
	{"gpt-3.5-turbo", 16_385, 4_096},
	{"claude", 200_000, 8_192},
	{"gemini-1.5-pro", 2_097_152, 8_192},
	{"gemini", 1_048_576, 8_192},
	{"mistral-large", 128_000, 8_192},
	{"deepseek", 64_000, 8_192},
}

// CapabilitiesFor returns the limits of model, matched case-insensitively
// by family prefix. Unknown models are assumed to have a 128k window and
// 4k of output, which is more than a drive-thru role-play ever needs.
func CapabilitiesFor(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{SupportsStreaming: true, ContextWindow: 128_000, MaxOutputTokens: 4_096}
	name := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(name, f.prefix) {
			caps.ContextWindow, caps.MaxOutputTokens = f.window, f.output
			break
		}
	}
	return caps
}
