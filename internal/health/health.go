// Package health serves the trainer's liveness and readiness probes.
//
// /healthz answers 200 whenever the process can serve HTTP. /readyz runs
// every registered [Checker] in parallel (the persistence gateway, the
// session store and the archive index) and answers 503 when any of them
// fails.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/burgerxpress/internal/observe"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named dependency probe. Check returns nil when the dependency
// is usable.
type Checker struct {
	// Name keys the result in the JSON response (e.g. "gateway", "redis").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Pinger is implemented by stores exposing a connectivity probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping adapts p into a [Checker] named name.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

type result struct {
	Status   string            `json:"status"`
	Checks   map[string]string `json:"checks,omitempty"`
	Duration string            `json:"duration,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: slices.Clone(checkers)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	failed, checks := h.run(r.Context())

	res := result{Status: "ok", Checks: checks, Duration: time.Since(start).Round(time.Millisecond).String()}
	status := http.StatusOK
	if failed {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, res)
}

// run reports whether any check failed, along with each checker's status.
func (h *Handler) run(ctx context.Context) (bool, map[string]string) {
	errs := make([]error, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, checkTimeout)
			defer cancel()
			errs[i] = c.Check(cctx)
			return nil
		})
	}
	_ = g.Wait()

	failed := false
	checks := make(map[string]string, len(h.checkers))
	for i, c := range h.checkers {
		if errs[i] == nil {
			checks[c.Name] = "ok"
			continue
		}
		failed = true
		checks[c.Name] = "fail: " + errs[i].Error()
		observe.Logger(ctx).Warn("health: check failed", "check", c.Name, "err", errs[i])
	}
	return failed, checks
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
