package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"

	"github.com/MrWong99/burgerxpress/pkg/types"
)

type voice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices implements [tts.Provider]. Labels such as accent and gender
// end up in the profile metadata next to the voice category.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: status %s", resp.Status)
	}

	var body struct {
		Voices []voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: decode: %w", err)
	}
	out := make([]types.VoiceProfile, 0, len(body.Voices))
	for _, v := range body.Voices {
		out = append(out, v.profile())
	}
	return out, nil
}

func (v voice) profile() types.VoiceProfile {
	meta := maps.Clone(v.Labels)
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	if v.Category != "" {
		meta["category"] = v.Category
	}
	return types.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs", Metadata: meta}
}
