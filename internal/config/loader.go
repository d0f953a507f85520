package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr          = ":8080"
	DefaultSessionTTL          = 12 * time.Hour
	DefaultArchiveDir          = "archive"
	DefaultLocalDir            = "data"
	DefaultEmbeddingDimensions = 1536
)

// Environment variables consulted when the matching YAML value is empty.
const (
	EnvOpenAIKey         = "OPENAI_API_KEY"
	EnvElevenLabsKey     = "ELEVENLABS_API_KEY"
	EnvDeepgramKey       = "DEEPGRAM_API_KEY"
	EnvGoogleCredentials = "GOOGLE_APPLICATION_CREDENTIALS"
	EnvDeveloperPassword = "BX_DEVELOPER_PASSWORD"
	EnvPostgresDSN       = "BX_POSTGRES_DSN"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt":        {"openai", "whisper", "deepgram"},
	"tts":        {"openai", "elevenlabs", "coqui"},
	"embeddings": {"openai", "ollama"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A .env file in the working directory is loaded first; variables
// already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and
// environment fallbacks, and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset values.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = DefaultSessionTTL
	}
	if cfg.Server.SessionStore == "" {
		cfg.Server.SessionStore = SessionStoreMemory
	}
	if cfg.Persistence.Backend == "" {
		cfg.Persistence.Backend = BackendLocal
	}
	if cfg.Persistence.ArchiveDir == "" {
		cfg.Persistence.ArchiveDir = DefaultArchiveDir
	}
	if cfg.Persistence.LocalDir == "" {
		cfg.Persistence.LocalDir = DefaultLocalDir
	}
	if cfg.Archive.EmbeddingDimensions == 0 {
		cfg.Archive.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
}

// ApplyEnv fills empty secrets from the environment through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	for _, e := range []*ProviderEntry{
		&cfg.Providers.LLM, &cfg.Providers.LLMFallback,
		&cfg.Providers.STT, &cfg.Providers.STTFallback,
		&cfg.Providers.TTS, &cfg.Providers.TTSFallback,
		&cfg.Providers.Embeddings,
	} {
		if e.APIKey != "" {
			continue
		}
		switch e.Name {
		case "openai":
			e.APIKey = getenv(EnvOpenAIKey)
		case "elevenlabs":
			e.APIKey = getenv(EnvElevenLabsKey)
		case "deepgram":
			e.APIKey = getenv(EnvDeepgramKey)
		}
	}
	if cfg.Persistence.Google.CredentialsFile == "" {
		cfg.Persistence.Google.CredentialsFile = getenv(EnvGoogleCredentials)
	}
	if cfg.Persistence.PostgresDSN == "" {
		cfg.Persistence.PostgresDSN = getenv(EnvPostgresDSN)
	}
	if cfg.Developer.Password == "" {
		cfg.Developer.Password = getenv(EnvDeveloperPassword)
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if r := cfg.Server.TraceSampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %g must be between 0 and 1", r))
	}
	if cfg.Server.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl %s must not be negative", cfg.Server.SessionTTL))
	}
	if cfg.Server.SessionStore != "" && !cfg.Server.SessionStore.IsValid() {
		errs = append(errs, fmt.Errorf("server.session_store %q is invalid; valid values: memory, redis", cfg.Server.SessionStore))
	}
	if cfg.Server.SessionStore == SessionStoreRedis && cfg.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when server.session_store is redis"))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm is required; the customer and the coach both need a model"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("stt", cfg.Providers.STTFallback.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)

	if cfg.Providers.TTS.Name == "" {
		slog.Warn("providers.tts is not configured; customer replies will be text only")
	}
	if cfg.Providers.STT.Name == "" {
		slog.Warn("providers.stt is not configured; voice input is disabled")
	}
	for _, f := range []struct {
		kind              string
		primary, fallback ProviderEntry
	}{
		{"llm", cfg.Providers.LLM, cfg.Providers.LLMFallback},
		{"stt", cfg.Providers.STT, cfg.Providers.STTFallback},
		{"tts", cfg.Providers.TTS, cfg.Providers.TTSFallback},
	} {
		if f.fallback.Name != "" && f.primary.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s_fallback requires providers.%s", f.kind, f.kind))
		}
	}

	// Persistence
	p := cfg.Persistence
	if p.Backend != "" && !p.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("persistence.backend %q is invalid; valid values: google, postgres, local", p.Backend))
	}
	switch p.Backend {
	case BackendGoogle:
		if p.Google.CredentialsFile == "" {
			errs = append(errs, errors.New("persistence.google.credentials_file is required for the google backend"))
		}
		if p.Google.ConversationsFolder == "" {
			errs = append(errs, errors.New("persistence.google.conversations_folder is required for the google backend"))
		}
	case BackendPostgres:
		if p.PostgresDSN == "" {
			errs = append(errs, errors.New("persistence.postgres_dsn is required for the postgres backend"))
		}
	}

	// Archive
	if cfg.Archive.Enabled && cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("archive.enabled requires providers.embeddings"))
	}
	if cfg.Archive.EmbeddingDimensions < 0 {
		errs = append(errs, fmt.Errorf("archive.embedding_dimensions %d must be positive", cfg.Archive.EmbeddingDimensions))
	}
	if cfg.Archive.Enabled && p.PostgresDSN == "" {
		slog.Warn("archive.enabled without persistence.postgres_dsn; the search index lives in memory and is rebuilt on start")
	}

	// Voice
	if s := cfg.Voice.SpeedFactor; s != 0 && (s < 0.25 || s > 4.0) {
		errs = append(errs, fmt.Errorf("voice.speed_factor %.2f is out of range [0.25, 4.0]", s))
	}

	if cfg.Developer.Password == "" {
		slog.Info("developer.password is empty; testing mode cannot be unlocked")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
