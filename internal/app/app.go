// Package app wires the trainer's subsystems into a running HTTP service.
//
// New builds every collaborator from the config (content, persistence
// gateway, session store, archive index, customer simulator, coach and the
// speech pipeline), Run serves HTTP until the context ends, and Shutdown
// tears everything down in order.
//
// Tests inject doubles through the functional options (WithGateway,
// WithSessionStore, WithChunkStore). When an option is not provided, New
// creates the real implementation named by the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/MrWong99/burgerxpress/internal/analytics"
	"github.com/MrWong99/burgerxpress/internal/archive"
	"github.com/MrWong99/burgerxpress/internal/chatsim"
	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/internal/config"
	"github.com/MrWong99/burgerxpress/internal/content"
	"github.com/MrWong99/burgerxpress/internal/health"
	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/persistence/google"
	"github.com/MrWong99/burgerxpress/internal/persistence/local"
	"github.com/MrWong99/burgerxpress/internal/persistence/postgres"
	"github.com/MrWong99/burgerxpress/internal/resilience"
	"github.com/MrWong99/burgerxpress/internal/session"
	"github.com/MrWong99/burgerxpress/internal/speech"
	"github.com/MrWong99/burgerxpress/internal/speech/phonetic"
	"github.com/MrWong99/burgerxpress/internal/web"
	"github.com/MrWong99/burgerxpress/pkg/provider/embeddings"
	"github.com/MrWong99/burgerxpress/pkg/provider/llm"
	"github.com/MrWong99/burgerxpress/pkg/provider/stt"
	"github.com/MrWong99/burgerxpress/pkg/provider/tts"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// DefaultConversationsFolder is the folder ID used by the local and
// postgres backends when none is configured.
const DefaultConversationsFolder = "conversations"

// backfillParallel bounds concurrent downloads while indexing the archive.
const backfillParallel = 4

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider

	// Names label provider metrics, keyed by kind ("llm", "stt", "tts").
	Names map[string]string
}

func (p *Providers) name(kind string) string {
	if n := p.Names[kind]; n != "" {
		return n
	}
	return kind
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	metrics   *observe.Metrics

	content    *content.Store
	gateway    persistence.Backend
	sessions   session.Store
	chunks     archive.ChunkStore
	archive    *archive.Service
	controller *session.Controller
	server     *web.Server
	checkers   []health.Checker
	folder     string

	httpServer *http.Server
	listener   net.Listener

	// closers run in reverse registration order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithGateway injects a persistence backend instead of creating one from
// config. The backend is still wrapped in a circuit breaker.
func WithGateway(b persistence.Backend) Option {
	return func(a *App) { a.gateway = b }
}

// WithSessionStore injects a session store.
func WithSessionStore(s session.Store) Option {
	return func(a *App) { a.sessions = s }
}

// WithChunkStore injects the archive's vector store.
func WithChunkStore(s archive.ChunkStore) Option {
	return func(a *App) { a.chunks = s }
}

// WithMetrics records on m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together. providers comes from
// main.go; an LLM is required.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Content ───────────────────────────────────────────────────────
	cs, err := content.Load(cfg.Content.Dir)
	if err != nil {
		return nil, fmt.Errorf("app: load content: %w", err)
	}
	a.content = cs

	// ── 2. Persistence gateway ───────────────────────────────────────────
	if err := a.initGateway(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init gateway: %w", err)
	}

	// ── 3. Session store ─────────────────────────────────────────────────
	if err := a.initSessions(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init sessions: %w", err)
	}

	// ── 4. Archive ───────────────────────────────────────────────────────
	if err := a.initArchive(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("app: init archive: %w", err)
	}

	// ── 5. Controller and HTTP server ────────────────────────────────────
	a.initController()
	a.initServer()

	return a, nil
}

func (a *App) initGateway(ctx context.Context) error {
	p := a.cfg.Persistence
	a.folder = p.Google.ConversationsFolder
	if a.folder == "" {
		a.folder = DefaultConversationsFolder
	}

	if a.gateway == nil {
		switch p.Backend {
		case config.BackendGoogle:
			gs, err := google.New(ctx, p.Google.CredentialsFile,
				google.WithSheetID(persistence.SheetConversations, p.Google.ConversationSheetID),
				google.WithSheetID(persistence.SheetFeedback, p.Google.FeedbackSheetID),
			)
			if err != nil {
				return err
			}
			a.gateway = gs
		case config.BackendPostgres:
			ps, err := postgres.NewStore(ctx, p.PostgresDSN)
			if err != nil {
				return err
			}
			a.gateway = ps
			a.checkers = append(a.checkers, health.Ping("gateway", ps))
			a.closers = append(a.closers, func() error { ps.Close(); return nil })
		default:
			a.gateway = local.New(p.LocalDir)
		}
	}
	slog.Info("persistence gateway ready", "backend", p.Backend, "folder", a.folder)

	a.gateway = resilience.NewGatewayBreaker(a.gateway, resilience.CircuitBreakerConfig{
		Name:         "gateway",
		MaxFailures:  5,
		ResetTimeout: 30 * time.Second,
		HalfOpenMax:  1,
	})
	return nil
}

func (a *App) initSessions(ctx context.Context) error {
	if a.sessions != nil {
		return nil
	}
	ttl := a.cfg.Server.SessionTTL
	if a.cfg.Server.SessionStore != config.SessionStoreRedis {
		a.sessions = session.NewMemoryStore(ttl)
		return nil
	}
	rs, err := session.NewRedisStore(ctx, session.RedisConfig{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		TTL:      ttl,
	})
	if err != nil {
		return err
	}
	a.sessions = rs
	a.checkers = append(a.checkers, health.Ping("sessions", rs))
	a.closers = append(a.closers, rs.Close)
	slog.Info("redis session store connected", "addr", a.cfg.Redis.Addr)
	return nil
}

func (a *App) initArchive(ctx context.Context) error {
	if !a.cfg.Archive.Enabled || a.providers.Embeddings == nil {
		return nil
	}
	if a.chunks == nil {
		if dsn := a.cfg.Persistence.PostgresDSN; dsn != "" {
			pg, err := archive.OpenPGStore(ctx, dsn, a.cfg.Archive.EmbeddingDimensions)
			if err != nil {
				return err
			}
			a.chunks = pg
			a.closers = append(a.closers, func() error { pg.Close(); return nil })
		} else {
			a.chunks = archive.NewMemoryStore()
		}
	}
	a.archive = archive.New(a.chunks, a.providers.Embeddings)
	return nil
}

func (a *App) initController() {
	p := a.providers
	sim := chatsim.New(p.LLM, a.content.MenuJSON(), chatsim.WithMetrics(a.metrics, p.name("llm")))
	coach := coaching.New(p.LLM, coaching.WithMetrics(a.metrics, p.name("llm")))

	opts := []session.Option{session.WithMetrics(a.metrics)}
	if p.TTS != nil {
		voice := types.VoiceProfile{
			ID:          a.cfg.Voice.VoiceID,
			Provider:    p.name("tts"),
			SpeedFactor: a.cfg.Voice.SpeedFactor,
		}
		opts = append(opts, session.WithSpeaker(speech.NewOutput(p.TTS, voice, speech.WithOutputMetrics(a.metrics, p.name("tts")))))
	}
	if p.STT != nil {
		items := a.content.ItemNames()
		opts = append(opts, session.WithListener(speech.NewInput(p.STT,
			speech.WithVocabulary(items),
			speech.WithCorrector(phonetic.New(items)),
			speech.WithInputMetrics(a.metrics, p.name("stt")),
		)))
	}
	if a.archive != nil {
		opts = append(opts, session.WithArchiver(a.archive))
	}

	a.controller = session.NewController(session.Config{
		Catalog:             a.content,
		Chat:                sim,
		Coach:               coach,
		Gateway:             a.gateway,
		ConversationsFolder: a.folder,
		LocalDir:            a.cfg.Persistence.ArchiveDir,
		DeveloperPassword:   a.cfg.Developer.Password,
	}, opts...)
}

func (a *App) initServer() {
	opts := []web.Option{
		web.WithMetrics(a.metrics),
		web.WithHealth(health.New(a.checkers...)),
	}
	if a.archive != nil {
		opts = append(opts, web.WithSearch(a.archive))
	}
	a.server = web.New(web.Config{
		Controller:          a.controller,
		Store:               a.sessions,
		Content:             a.content,
		Gateway:             a.gateway,
		Analytics:           analytics.New(a.gateway),
		ConversationsFolder: a.folder,
		SessionTTL:          a.cfg.Server.SessionTTL,
		SecureCookie:        a.cfg.Server.SecureCookie,
	}, opts...)
}

// Handler returns the routed HTTP handler.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. When the archive is enabled, transcripts
// already in the conversations folder are indexed in the background.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	a.listener = ln
	a.httpServer = &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	var wg sync.WaitGroup
	if a.archive != nil {
		wg.Go(func() {
			n, err := a.archive.Backfill(ctx, a.gateway, a.folder, backfillParallel)
			if err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("archive backfill failed", "err", err)
				return
			}
			slog.Info("archive backfill complete", "indexed", n)
		})
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.httpServer.Serve(ln) }()
	slog.Info("http server listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
		wg.Wait()
		return ctx.Err()
	}
}

// Shutdown stops accepting requests, waits for in-flight requests and
// background indexing, then closes stores in reverse-init order. It respects
// the context deadline: if ctx expires, remaining closers are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
				shutdownErr = err
			}
		}

		done := make(chan struct{})
		go func() {
			a.controller.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded waiting for archive indexing")
			shutdownErr = ctx.Err()
			return
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := ctx.Err(); err != nil {
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = err
				return
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// close releases whatever New managed to open before failing.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}
