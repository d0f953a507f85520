// Command burgerxpress serves the BurgerXpress customer-service trainer.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/burgerxpress/internal/app"
	"github.com/MrWong99/burgerxpress/internal/config"
	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/resilience"
	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/burgerxpress/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/burgerxpress/pkg/provider/embeddings/openai"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/burgerxpress/pkg/provider/llm/openai"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/burgerxpress/pkg/provider/stt/openai"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt/whisper"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts/coqui"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/burgerxpress/pkg/provider/tts/openai"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "burgerxpress: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "burgerxpress: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("burgerxpress starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		SampleRatio:    cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, reg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyllmBackends share one pattern: optional APIKey + optional BaseURL.
var anyllmBackends = []string{"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama"}

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oallm.WithTimeout(d))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, backend := range anyllmBackends {
		reg.RegisterLLM(backend, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(backend, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if d := optDuration(entry.Options, "timeout"); d > 0 {
			opts = append(opts, oastt.WithTimeout(d))
		}
		return oastt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		return oatts.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if outputFmt := optString(entry.Options, "output_format"); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := optString(entry.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, coqui.WithSampleRate(rate))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		return ollamaembed.New(entry.BaseURL, entry.Model, opts...)
	})

	for _, kind := range []string{"llm", "stt", "tts", "embeddings"} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// fallbackBreaker tunes the breakers guarding primary providers.
var fallbackBreaker = resilience.FallbackConfig{
	CircuitBreaker: resilience.CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: 30 * time.Second, HalfOpenMax: 1},
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured fallbacks wrap their primary in a resilience group.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{Names: map[string]string{}}
	pc := cfg.Providers
	var err error

	ps.LLM, err = withFallback(ps, "llm", pc.LLM, pc.LLMFallback, reg.CreateLLM,
		func(p, fb llm.Provider) llm.Provider {
			g := resilience.NewLLMFallback(p, pc.LLM.Name, fallbackBreaker)
			g.AddFallback(pc.LLMFallback.Name, fb)
			return g
		})
	if err != nil {
		return nil, err
	}
	ps.STT, err = withFallback(ps, "stt", pc.STT, pc.STTFallback, reg.CreateSTT,
		func(p, fb stt.Provider) stt.Provider {
			g := resilience.NewSTTFallback(p, pc.STT.Name, fallbackBreaker)
			g.AddFallback(pc.STTFallback.Name, fb)
			return g
		})
	if err != nil {
		return nil, err
	}
	ps.TTS, err = withFallback(ps, "tts", pc.TTS, pc.TTSFallback, reg.CreateTTS,
		func(p, fb tts.Provider) tts.Provider {
			g := resilience.NewTTSFallback(p, pc.TTS.Name, fallbackBreaker)
			g.AddFallback(pc.TTSFallback.Name, fb)
			return g
		})
	if err != nil {
		return nil, err
	}

	if ps.Embeddings, err = create("embeddings", pc.Embeddings, reg.CreateEmbeddings); err != nil {
		return nil, err
	}
	return ps, nil
}

// withFallback creates the primary for kind and, when a fallback is also
// available, joins both through group.
func withFallback[T any](ps *app.Providers, kind string, primary, fallback config.ProviderEntry,
	factory func(config.ProviderEntry) (T, error), group func(p, fb T) T) (T, error) {
	p, err := create(kind, primary, factory)
	if err != nil || any(p) == nil {
		return p, err
	}
	ps.Names[kind] = primary.Name
	fb, err := create(kind, fallback, factory)
	if err != nil {
		return p, err
	}
	if any(fb) == nil {
		return p, nil
	}
	slog.Info("fallback enabled", "kind", kind, "primary", primary.Name, "fallback", fallback.Name)
	return group(p, fb), nil
}

// create builds the provider for entry. An empty name or an unregistered
// provider yields the zero value and no error.
func create[T any](kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (T, error)) (T, error) {
	var zero T
	if entry.Name == "" {
		return zero, nil
	}
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Warn("provider not available; skipping", "kind", kind, "name", entry.Name)
		return zero, nil
	}
	if err != nil {
		return zero, fmt.Errorf("create %s provider %q: %w", kind, entry.Name, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, reg *config.Registry) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║     BurgerXpress: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("LLM", providerLabel(cfg.Providers.LLM))
	printRow("LLM fallback", providerLabel(cfg.Providers.LLMFallback))
	printRow("STT", providerLabel(cfg.Providers.STT))
	printRow("STT fallback", providerLabel(cfg.Providers.STTFallback))
	printRow("TTS", providerLabel(cfg.Providers.TTS))
	printRow("TTS fallback", providerLabel(cfg.Providers.TTSFallback))
	printRow("Embeddings", providerLabel(cfg.Providers.Embeddings))
	printRow("Persistence", string(cfg.Persistence.Backend))
	printRow("Sessions", string(cfg.Server.SessionStore))
	if cfg.Archive.Enabled {
		printRow("Search", "enabled")
	} else {
		printRow("Search", "(disabled)")
	}
	if cfg.Developer.Password != "" {
		printRow("Testing mode", "password set")
	} else {
		printRow("Testing mode", "(locked)")
	}
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("LLM backends", fmt.Sprintf("%d registered", len(reg.Names("llm"))))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len([]rune(value)) > 19 {
		value = string([]rune(value)[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// optInt extracts an integer option. YAML decodes whole numbers as int.
func optInt(opts map[string]any, key string) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// optDuration parses a duration option such as "30s".
func optDuration(opts map[string]any, key string) time.Duration {
	d, err := time.ParseDuration(optString(opts, key))
	if err != nil {
		return 0
	}
	return d
}
