package config_test

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/burgerxpress/internal/config"
	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
	embmock "github.com/MrWong99/burgerxpress/pkg/provider/embeddings/mock"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	llmmock "github.com/MrWong99/burgerxpress/pkg/provider/llm/mock"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	sttmock "github.com/MrWong99/burgerxpress/pkg/provider/stt/mock"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	ttsmock "github.com/MrWong99/burgerxpress/pkg/provider/tts/mock"
)

// ── helpers ──────────────────────────────────────────────────────────────────

const sampleYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  session_ttl: 2h
  session_store: redis

providers:
  llm:
    name: openai
    api_key: sk-test
    model: gpt-4o-mini
  llm_fallback:
    name: anthropic
    model: claude-3-5-haiku-latest
  stt:
    name: openai
    model: whisper-1
  tts:
    name: elevenlabs
    api_key: el-test
    options:
      output_format: mp3_44100_128
  tts_fallback:
    name: openai
    model: tts-1
  embeddings:
    name: openai
    model: text-embedding-3-small

content:
  dir: ./content

persistence:
  backend: google
  google:
    credentials_file: /secrets/sa.json
    conversations_folder: 1AbCdEf
    feedback_sheet_id: sheet-123
  archive_dir: /var/lib/bx/archive

redis:
  addr: localhost:6379
  db: 2

archive:
  enabled: true
  embedding_dimensions: 512

developer:
  password: letmein

voice:
  voice_id: alloy
  speed_factor: 1.1
`

func load(t *testing.T, doc string) (*config.Config, error) {
	t.Helper()
	return config.LoadFromReader(strings.NewReader(doc))
}

// ── YAML loading ──────────────────────────────────────────────────────────────

func TestLoadFromReader_Valid(t *testing.T) {
	t.Setenv(config.EnvOpenAIKey, "sk-env")

	cfg, err := load(t, sampleYAML)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("server.listen_addr: got %q, want %q", cfg.Server.ListenAddr, ":9090")
	}
	if cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server.log_level: got %q", cfg.Server.LogLevel)
	}
	if cfg.Server.SessionTTL != 2*time.Hour {
		t.Errorf("server.session_ttl: got %s, want 2h", cfg.Server.SessionTTL)
	}
	if cfg.Providers.LLM.APIKey != "sk-test" {
		t.Errorf("explicit api_key overwritten: %q", cfg.Providers.LLM.APIKey)
	}
	if cfg.Providers.STT.APIKey != "sk-env" || cfg.Providers.Embeddings.APIKey != "sk-env" {
		t.Errorf("env fallback not applied: stt=%q embeddings=%q", cfg.Providers.STT.APIKey, cfg.Providers.Embeddings.APIKey)
	}
	if cfg.Providers.LLMFallback.APIKey != "" {
		t.Errorf("anthropic key should not come from OPENAI_API_KEY: %q", cfg.Providers.LLMFallback.APIKey)
	}
	if got := cfg.Providers.TTS.Options["output_format"]; got != "mp3_44100_128" {
		t.Errorf("tts options: got %v", got)
	}
	if cfg.Persistence.Backend != config.BackendGoogle || cfg.Persistence.Google.FeedbackSheetID != "sheet-123" {
		t.Errorf("persistence: got %+v", cfg.Persistence)
	}
	if cfg.Persistence.LocalDir != config.DefaultLocalDir {
		t.Errorf("persistence.local_dir default: got %q", cfg.Persistence.LocalDir)
	}
	if cfg.Redis.DB != 2 || cfg.Archive.EmbeddingDimensions != 512 {
		t.Errorf("redis/archive: got %+v %+v", cfg.Redis, cfg.Archive)
	}
	if cfg.Voice.VoiceID != "alloy" || cfg.Developer.Password != "letmein" {
		t.Errorf("voice/developer: got %+v %+v", cfg.Voice, cfg.Developer)
	}
}

func TestLoadFromReader_Minimal(t *testing.T) {
	cfg, err := load(t, "providers:\n  llm:\n    name: ollama\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.ServerConfig{
		ListenAddr:   config.DefaultListenAddr,
		LogLevel:     config.LogInfo,
		SessionTTL:   config.DefaultSessionTTL,
		SessionStore: config.SessionStoreMemory,
	}
	if !reflect.DeepEqual(cfg.Server, want) {
		t.Errorf("server defaults: got %+v, want %+v", cfg.Server, want)
	}
	if cfg.Persistence.Backend != config.BackendLocal || cfg.Persistence.ArchiveDir != config.DefaultArchiveDir {
		t.Errorf("persistence defaults: got %+v", cfg.Persistence)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	_, err := load(t, "server:\n  listen_adress: \":80\"\n")
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
	if !strings.Contains(err.Error(), "listen_adress") {
		t.Errorf("error should name the field, got: %v", err)
	}
}

// ── Validation ────────────────────────────────────────────────────────────────

func TestValidate(t *testing.T) {
	t.Setenv(config.EnvGoogleCredentials, "")
	t.Setenv(config.EnvPostgresDSN, "")

	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "empty",
			yaml: "{}",
			want: []string{"providers.llm is required"},
		},
		{
			name: "log level",
			yaml: "server:\n  log_level: verbose\nproviders:\n  llm:\n    name: openai\n",
			want: []string{"log_level"},
		},
		{
			name: "sample ratio out of range",
			yaml: "server:\n  trace_sample_ratio: 1.5\nproviders:\n  llm:\n    name: openai\n",
			want: []string{"trace_sample_ratio"},
		},
		{
			name: "redis without addr",
			yaml: "server:\n  session_store: redis\nproviders:\n  llm:\n    name: openai\n",
			want: []string{"redis.addr"},
		},
		{
			name: "unknown session store",
			yaml: "server:\n  session_store: etcd\nproviders:\n  llm:\n    name: openai\n",
			want: []string{"session_store"},
		},
		{
			name: "google without credentials or folder",
			yaml: "providers:\n  llm:\n    name: openai\npersistence:\n  backend: google\n",
			want: []string{"credentials_file", "conversations_folder"},
		},
		{
			name: "postgres without dsn",
			yaml: "providers:\n  llm:\n    name: openai\npersistence:\n  backend: postgres\n",
			want: []string{"postgres_dsn"},
		},
		{
			name: "unknown backend",
			yaml: "providers:\n  llm:\n    name: openai\npersistence:\n  backend: s3\n",
			want: []string{"persistence.backend"},
		},
		{
			name: "archive without embeddings",
			yaml: "providers:\n  llm:\n    name: openai\narchive:\n  enabled: true\n",
			want: []string{"providers.embeddings"},
		},
		{
			name: "fallback without primary",
			yaml: "providers:\n  llm:\n    name: openai\n  tts_fallback:\n    name: openai\n",
			want: []string{"providers.tts_fallback"},
		},
		{
			name: "stt fallback without primary",
			yaml: "providers:\n  llm:\n    name: openai\n  stt_fallback:\n    name: openai\n",
			want: []string{"providers.stt_fallback requires providers.stt"},
		},
		{
			name: "speed factor",
			yaml: "providers:\n  llm:\n    name: openai\nvoice:\n  speed_factor: 5\n",
			want: []string{"speed_factor"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := load(t, tc.yaml)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, w := range tc.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error should mention %q, got: %v", w, err)
				}
			}
		})
	}
}

func TestValidate_JoinsAllProblems(t *testing.T) {
	_, err := load(t, "server:\n  log_level: loud\npersistence:\n  backend: nowhere\n")
	if err == nil {
		t.Fatal("expected error")
	}
	for _, w := range []string{"log_level", "providers.llm", "persistence.backend"} {
		if !strings.Contains(err.Error(), w) {
			t.Errorf("error should mention %q, got: %v", w, err)
		}
	}
}

// ── Registry ─────────────────────────────────────────────────────────────────

func TestRegistry_Unknown(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	entry := config.ProviderEntry{Name: "nonexistent"}

	_, errLLM := reg.CreateLLM(entry)
	_, errSTT := reg.CreateSTT(entry)
	_, errTTS := reg.CreateTTS(entry)
	_, errEmb := reg.CreateEmbeddings(entry)
	for kind, err := range map[string]error{"llm": errLLM, "stt": errSTT, "tts": errTTS, "embeddings": errEmb} {
		if !errors.Is(err, config.ErrProviderNotRegistered) {
			t.Errorf("%s: expected ErrProviderNotRegistered, got: %v", kind, err)
		}
		if err != nil && !strings.Contains(err.Error(), kind+"/") {
			t.Errorf("%s: error should name the kind, got: %v", kind, err)
		}
	}
}

func TestRegistry_Registered(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()

	wantLLM := &llmmock.Provider{}
	wantSTT := &sttmock.Provider{}
	wantTTS := &ttsmock.Provider{}
	wantEmb := &embmock.Provider{}
	var gotEntry config.ProviderEntry
	reg.RegisterLLM("stub", func(e config.ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return wantLLM, nil
	})
	reg.RegisterSTT("stub", func(config.ProviderEntry) (stt.Provider, error) { return wantSTT, nil })
	reg.RegisterTTS("stub", func(config.ProviderEntry) (tts.Provider, error) { return wantTTS, nil })
	reg.RegisterEmbeddings("stub", func(config.ProviderEntry) (embeddings.Provider, error) { return wantEmb, nil })

	entry := config.ProviderEntry{Name: "stub", Model: "m"}
	if got, err := reg.CreateLLM(entry); err != nil || got != wantLLM {
		t.Errorf("CreateLLM = %v, %v", got, err)
	}
	if gotEntry.Model != "m" {
		t.Errorf("factory received %+v", gotEntry)
	}
	if got, err := reg.CreateSTT(entry); err != nil || got != wantSTT {
		t.Errorf("CreateSTT = %v, %v", got, err)
	}
	if got, err := reg.CreateTTS(entry); err != nil || got != wantTTS {
		t.Errorf("CreateTTS = %v, %v", got, err)
	}
	if got, err := reg.CreateEmbeddings(entry); err != nil || got != wantEmb {
		t.Errorf("CreateEmbeddings = %v, %v", got, err)
	}
}

func TestRegistry_FactoryError(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.ProviderEntry) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.ProviderEntry{Name: "broken"})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected factory error %v, got %v", wantErr, err)
	}
}

func TestRegistry_Names(t *testing.T) {
	t.Parallel()
	reg := config.NewRegistry()
	for _, n := range []string{"openai", "coqui", "elevenlabs"} {
		reg.RegisterTTS(n, func(config.ProviderEntry) (tts.Provider, error) { return nil, nil })
	}
	if got, want := reg.Names("tts"), []string{"coqui", "elevenlabs", "openai"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names(tts) = %v, want %v", got, want)
	}
	if got := reg.Names("llm"); len(got) != 0 {
		t.Errorf("Names(llm) = %v, want empty", got)
	}
	if got := reg.Names("s2s"); got != nil {
		t.Errorf("Names(s2s) = %v, want nil", got)
	}
}
