package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/session"
	"github.com/MrWong99/burgerxpress/pkg/types"
)

// keyedMutex hands out one mutex per key and forgets it once nobody holds
// or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyedEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// View is the client's picture of a session.
type View struct {
	ID          string                  `json:"id"`
	Page        session.Page            `json:"page"`
	State       string                  `json:"state"`
	Role        session.Role            `json:"role"`
	TestingMode bool                    `json:"testing_mode"`
	Scenario    string                  `json:"scenario,omitempty"`
	Personality string                  `json:"personality,omitempty"`
	Transcript  types.Transcript        `json:"transcript"`
	Coaching    *coaching.Result        `json:"coaching,omitempty"`
	Feedback    *session.FeedbackRecord `json:"feedback,omitempty"`
	AudioSeq    int                     `json:"audio_seq,omitempty"`
	Notices     []string                `json:"notices"`
}

// newView renders s and consumes its notices.
func newView(s *session.Session) View {
	v := View{
		ID:          s.ID,
		Page:        s.Page,
		State:       s.State().String(),
		Role:        s.Role,
		TestingMode: s.TestingMode,
		Scenario:    s.Scenario,
		Personality: s.Personality,
		Transcript:  s.Transcript,
		Coaching:    s.Coaching,
		Feedback:    s.Feedback,
		Notices:     s.TakeNotices(),
	}
	if v.Transcript == nil {
		v.Transcript = types.Transcript{}
	}
	if v.Notices == nil {
		v.Notices = []string{}
	}
	if s.LastClip != nil {
		v.AudioSeq = s.LastClip.Seq
	}
	return v
}

// sessionID returns the caller's session ID, issuing a new cookie when the
// request carries none or a malformed one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (id string, known bool) {
	if c, err := r.Cookie(CookieName); err == nil {
		if u, err := uuid.Parse(c.Value); err == nil {
			return u.String(), true
		}
	}
	id = uuid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return id, false
}

// with runs fn on the caller's session while holding its lock and saves
// the result, also when fn fails.
func (s *Server) with(w http.ResponseWriter, r *http.Request, fn func(*session.Session) error) error {
	id, known := s.sessionID(w, r)
	unlock := s.locks.Lock(id)
	defer unlock()

	ctx := observe.WithSessionID(r.Context(), id)
	sess, err := s.cfg.Store.Load(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		sess = session.New(id)
		if s.metrics != nil {
			if known {
				// The previous session behind this cookie expired.
				s.metrics.ActiveSessions.Add(ctx, -1)
			}
			s.metrics.ActiveSessions.Add(ctx, 1)
		}
	case err != nil:
		return fmt.Errorf("web: load session: %w", err)
	}

	fnErr := fn(sess)
	if err := s.cfg.Store.Save(context.WithoutCancel(ctx), sess); err != nil {
		observe.Logger(ctx).Error("web: save session", "err", err)
		if fnErr == nil {
			fnErr = fmt.Errorf("web: save session: %w", err)
		}
	}
	return fnErr
}

// withView is [Server.with] followed by rendering the session. The view is
// only rendered on success so that notices survive an error response.
func (s *Server) withView(w http.ResponseWriter, r *http.Request, fn func(*session.Session) error) (View, error) {
	var v View
	err := s.with(w, r, func(sess *session.Session) error {
		if err := fn(sess); err != nil {
			return err
		}
		v = newView(sess)
		return nil
	})
	return v, err
}

// action adapts a session mutation to a JSON endpoint answering with the
// updated [View].
func (s *Server) action(fn func(*http.Request, *session.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v, err := s.withView(w, r, func(sess *session.Session) error { return fn(r, sess) })
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	}
}
