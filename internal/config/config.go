// Package config provides the configuration schema, loader, and provider
// registry for the BurgerXpress trainer.
package config

import "time"

// LogLevel controls log verbosity for the trainer.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SessionStore selects where trainee sessions live between requests.
type SessionStore string

const (
	SessionStoreMemory SessionStore = "memory"
	SessionStoreRedis  SessionStore = "redis"
)

// IsValid reports whether s is a recognised session store.
func (s SessionStore) IsValid() bool {
	return s == SessionStoreMemory || s == SessionStoreRedis
}

// Backend selects the persistence gateway implementation.
type Backend string

const (
	BackendGoogle   Backend = "google"
	BackendPostgres Backend = "postgres"
	BackendLocal    Backend = "local"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	switch b {
	case BackendGoogle, BackendPostgres, BackendLocal:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Content     ContentConfig     `yaml:"content"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Redis       RedisConfig       `yaml:"redis"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Developer   DeveloperConfig   `yaml:"developer"`
	Voice       VoiceConfig       `yaml:"voice"`
}

// ServerConfig holds network, logging and session settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	LogLevel LogLevel `yaml:"log_level"`

	// SessionTTL is the idle lifetime of a trainee session. Default 12h.
	SessionTTL time.Duration `yaml:"session_ttl"`

	// SessionStore is memory (default) or redis.
	SessionStore SessionStore `yaml:"session_store"`

	// SecureCookie marks the session cookie Secure. Enable behind TLS.
	SecureCookie bool `yaml:"secure_cookie"`

	// TraceSampleRatio is the fraction of new traces that are sampled.
	// Zero samples everything.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// ProvidersConfig declares which provider implementation to use for each
// stage. Each entry selects a named provider registered in the [Registry].
// The fallback entries are optional.
type ProvidersConfig struct {
	LLM         ProviderEntry `yaml:"llm"`
	LLMFallback ProviderEntry `yaml:"llm_fallback"`
	STT         ProviderEntry `yaml:"stt"`
	STTFallback ProviderEntry `yaml:"stt_fallback"`
	TTS         ProviderEntry `yaml:"tts"`
	TTSFallback ProviderEntry `yaml:"tts_fallback"`
	Embeddings  ProviderEntry `yaml:"embeddings"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "elevenlabs").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint, or locates a
	// self-hosted server.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// ContentConfig locates the menu, rules and scenario files.
type ContentConfig struct {
	// Dir overrides the built-in content. Files missing from Dir fall back to
	// the built-in copy.
	Dir string `yaml:"dir"`
}

// PersistenceConfig selects where transcripts and analytics rows go.
type PersistenceConfig struct {
	// Backend is google, postgres or local (default).
	Backend Backend `yaml:"backend"`

	Google GoogleConfig `yaml:"google"`

	// PostgresDSN is the connection string for the postgres backend and the
	// archive index.
	PostgresDSN string `yaml:"postgres_dsn"`

	// LocalDir holds the local backend's sheets and folders.
	LocalDir string `yaml:"local_dir"`

	// ArchiveDir receives the local copy of every transcript. Default "archive".
	ArchiveDir string `yaml:"archive_dir"`
}

// GoogleConfig configures the Sheets and Drive gateway.
type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	ConversationsFolder string `yaml:"conversations_folder"`

	// ConversationSheet and FeedbackSheet override the sheet titles.
	ConversationSheet string `yaml:"conversation_sheet"`
	FeedbackSheet     string `yaml:"feedback_sheet"`

	// ConversationSheetID and FeedbackSheetID skip the lookup by title.
	ConversationSheetID string `yaml:"conversation_sheet_id"`
	FeedbackSheetID     string `yaml:"feedback_sheet_id"`
}

// RedisConfig configures the redis session store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ArchiveConfig controls semantic search over past conversations.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled"`

	// EmbeddingDimensions must match the embeddings model. Default 1536.
	EmbeddingDimensions int `yaml:"embedding_dimensions"`
}

// DeveloperConfig guards testing mode.
type DeveloperConfig struct {
	// Password unlocks testing mode. Empty keeps it locked.
	Password string `yaml:"password"`
}

// VoiceConfig selects the customer's voice.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier (e.g. "alloy").
	VoiceID string `yaml:"voice_id"`

	// SpeedFactor adjusts speaking rate in the range [0.25, 4.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}
