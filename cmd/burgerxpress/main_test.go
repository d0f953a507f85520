package main

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/burgerxpress/internal/config"
	"github.com/MrWong99/burgerxpress/internal/resilience"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	llmmock "github.com/MrWong99/burgerxpress/pkg/provider/llm/mock"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	sttmock "github.com/MrWong99/burgerxpress/pkg/provider/stt/mock"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	ttsmock "github.com/MrWong99/burgerxpress/pkg/provider/tts/mock"
)

func mockRegistry() *config.Registry {
	reg := config.NewRegistry()
	for _, name := range []string{"primary", "backup"} {
		reg.RegisterLLM(name, func(config.ProviderEntry) (llm.Provider, error) { return &llmmock.Provider{}, nil })
		reg.RegisterTTS(name, func(config.ProviderEntry) (tts.Provider, error) { return &ttsmock.Provider{}, nil })
		reg.RegisterSTT(name, func(config.ProviderEntry) (stt.Provider, error) { return &sttmock.Provider{}, nil })
	}
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) { return nil, errors.New("bad key") })
	return reg
}

func TestBuildProviders(t *testing.T) {
	t.Parallel()

	t.Run("primary only", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
		ps, err := buildProviders(cfg, mockRegistry())
		if err != nil {
			t.Fatalf("buildProviders: %v", err)
		}
		if _, ok := ps.LLM.(*llmmock.Provider); !ok {
			t.Errorf("LLM = %T, want the bare primary", ps.LLM)
		}
		if ps.TTS != nil || ps.STT != nil || ps.Embeddings != nil {
			t.Error("unconfigured slots should stay nil")
		}
		if ps.Names["llm"] != "primary" {
			t.Errorf("llm name = %q", ps.Names["llm"])
		}
	})

	t.Run("fallbacks wrap primaries", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
		cfg.Providers.LLMFallback = config.ProviderEntry{Name: "backup"}
		cfg.Providers.TTS = config.ProviderEntry{Name: "primary"}
		cfg.Providers.TTSFallback = config.ProviderEntry{Name: "backup"}
		cfg.Providers.STT = config.ProviderEntry{Name: "primary"}
		cfg.Providers.STTFallback = config.ProviderEntry{Name: "backup"}
		ps, err := buildProviders(cfg, mockRegistry())
		if err != nil {
			t.Fatalf("buildProviders: %v", err)
		}
		if _, ok := ps.LLM.(*resilience.LLMFallback); !ok {
			t.Errorf("LLM = %T, want *resilience.LLMFallback", ps.LLM)
		}
		if _, ok := ps.TTS.(*resilience.TTSFallback); !ok {
			t.Errorf("TTS = %T, want *resilience.TTSFallback", ps.TTS)
		}
		if _, ok := ps.STT.(*resilience.STTFallback); !ok {
			t.Errorf("STT = %T, want *resilience.STTFallback", ps.STT)
		}
		if ps.Names["stt"] != "primary" {
			t.Errorf("stt name = %q, want primary", ps.Names["stt"])
		}
	})

	t.Run("unregistered is skipped", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Providers.LLM = config.ProviderEntry{Name: "primary"}
		cfg.Providers.STT = config.ProviderEntry{Name: "nope"}
		ps, err := buildProviders(cfg, mockRegistry())
		if err != nil {
			t.Fatalf("buildProviders: %v", err)
		}
		if ps.STT != nil {
			t.Errorf("STT = %T, want nil", ps.STT)
		}
	})

	t.Run("factory error fails", func(t *testing.T) {
		t.Parallel()
		cfg := &config.Config{}
		cfg.Providers.LLM = config.ProviderEntry{Name: "broken"}
		if _, err := buildProviders(cfg, mockRegistry()); err == nil {
			t.Fatal("expected error from failing factory")
		}
	})
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	want := map[string][]string{
		"llm":        {"anthropic", "deepseek", "gemini", "groq", "llamacpp", "llamafile", "mistral", "ollama", "openai"},
		"stt":        {"deepgram", "openai", "whisper"},
		"tts":        {"coqui", "elevenlabs", "openai"},
		"embeddings": {"ollama", "openai"},
	}
	for kind, names := range want {
		got := reg.Names(kind)
		if len(got) != len(names) {
			t.Errorf("%s: got %v, want %v", kind, got, names)
			continue
		}
		for i := range names {
			if got[i] != names[i] {
				t.Errorf("%s: got %v, want %v", kind, got, names)
				break
			}
		}
	}
	// Every registered name is known to config validation.
	for kind, names := range want {
		for _, n := range names {
			found := false
			for _, k := range config.ValidProviderNames[kind] {
				found = found || k == n
			}
			if !found {
				t.Errorf("%s/%s missing from config.ValidProviderNames", kind, n)
			}
		}
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()
	opts := map[string]any{"language": "en", "sample_rate": 24000, "ratio": 1.5, "timeout": "30s", "bad": "soon"}
	if got := optString(opts, "language"); got != "en" {
		t.Errorf("optString = %q", got)
	}
	if got := optString(nil, "language"); got != "" {
		t.Errorf("optString(nil) = %q", got)
	}
	if got := optInt(opts, "sample_rate"); got != 24000 {
		t.Errorf("optInt = %d", got)
	}
	if got := optInt(opts, "language"); got != 0 {
		t.Errorf("optInt(string) = %d", got)
	}
	if got := optDuration(opts, "timeout"); got != 30*time.Second {
		t.Errorf("optDuration = %s", got)
	}
	if got := optDuration(opts, "bad"); got != 0 {
		t.Errorf("optDuration(bad) = %s", got)
	}
}
