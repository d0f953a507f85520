// Package web serves the trainer's JSON API. Every trainee is identified by
// the bx_session cookie; requests for one session are serialised so that
// the session controller always sees a consistent [session.Session].
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/burgerxpress/internal/analytics"
	"github.com/MrWong99/burgerxpress/internal/archive"
	"github.com/MrWong99/burgerxpress/internal/content"
	"github.com/MrWong99/burgerxpress/internal/health"
	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/session"
)

// CookieName is the session cookie.
const CookieName = "bx_session"

const (
	maxJSONBody  = 1 << 20
	maxVoiceBody = 16 << 20
)

// Searcher answers free-text queries over archived conversations.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]archive.Hit, error)
}

// Config wires the server to the rest of the application.
type Config struct {
	Controller *session.Controller
	Store      session.Store
	Content    *content.Store
	Gateway    persistence.Gateway
	Analytics  *analytics.Service

	// ConversationsFolder is listed on the past-conversations page.
	ConversationsFolder string

	// SessionTTL sets the cookie lifetime. Zero uses [session.DefaultTTL].
	SessionTTL time.Duration

	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
}

// Option configures a [Server].
type Option func(*Server)

// WithSearch enables the archive search endpoint.
func WithSearch(s Searcher) Option {
	return func(srv *Server) { srv.search = s }
}

// WithHealth serves /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(srv *Server) { srv.health = h }
}

// WithMetrics records request and session metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(srv *Server) { srv.metrics = m }
}

// Server is the HTTP front of the trainer.
type Server struct {
	cfg     Config
	search  Searcher
	health  *health.Handler
	metrics *observe.Metrics
	locks   *keyedMutex
}

// New returns a Server for cfg.
func New(cfg Config, opts ...Option) *Server {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	s := &Server{cfg: cfg, locks: newKeyedMutex()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the routed and instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/session", s.action(func(*http.Request, *session.Session) error { return nil }))
	mux.HandleFunc("POST /api/navigate", s.action(s.navigate))
	mux.HandleFunc("POST /api/role", s.action(s.setRole))
	mux.HandleFunc("POST /api/developer", s.action(s.unlock))

	mux.HandleFunc("POST /api/conversation/start", s.action(s.start))
	mux.HandleFunc("POST /api/conversation/message", s.message)
	mux.HandleFunc("POST /api/conversation/voice", s.voice)
	mux.HandleFunc("POST /api/conversation/exit", s.action(s.requestExit))
	mux.HandleFunc("POST /api/conversation/exit/cancel", s.action(s.cancelExit))
	mux.HandleFunc("POST /api/conversation/exit/confirm", s.action(s.confirmExit))
	mux.HandleFunc("POST /api/conversation/feedback", s.action(s.submitFeedback))
	mux.HandleFunc("POST /api/home", s.action(s.home))
	mux.HandleFunc("GET /api/audio/latest", s.latestAudio)

	mux.HandleFunc("GET /api/content/menu", s.menu)
	mux.HandleFunc("GET /api/content/guidelines", s.guidelines)
	mux.HandleFunc("GET /api/content/instructions", s.instructions)

	mux.HandleFunc("GET /api/conversations", s.listConversations)
	mux.HandleFunc("GET /api/conversations/search", s.searchConversations)
	mux.HandleFunc("GET /api/conversations/{id...}", s.getConversation)
	mux.HandleFunc("POST /api/general-feedback", s.generalFeedback)

	mux.HandleFunc("GET /api/analytics", s.analytics)

	if s.health != nil {
		s.health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	if s.metrics == nil {
		return mux
	}
	return observe.Middleware(s.metrics)(mux)
}
