package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/burgerxpress/internal/session"
	"github.com/MrWong99/burgerxpress/internal/speech"
)

func (s *Server) navigate(r *http.Request, sess *session.Session) error {
	var req struct {
		Page string `json:"page"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	page, ok := session.ParsePage(req.Page)
	if !ok {
		return badRequest("unknown page %q", req.Page)
	}
	return s.cfg.Controller.Navigate(r.Context(), sess, page)
}

func (s *Server) setRole(r *http.Request, sess *session.Session) error {
	var req struct {
		Role session.Role `json:"role"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if !req.Role.Valid() {
		return badRequest("unknown role %q", req.Role)
	}
	return s.cfg.Controller.SetRole(sess, req.Role)
}

func (s *Server) unlock(r *http.Request, sess *session.Session) error {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if s.cfg.Controller.Unlock(sess, req.Password) {
		sess.Notify("Testing Mode Enabled")
	}
	return nil
}

func (s *Server) start(r *http.Request, sess *session.Session) error {
	return s.cfg.Controller.StartConversation(r.Context(), sess)
}

func (s *Server) requestExit(_ *http.Request, sess *session.Session) error {
	return s.cfg.Controller.RequestExit(sess)
}

func (s *Server) cancelExit(_ *http.Request, sess *session.Session) error {
	return s.cfg.Controller.CancelExit(sess)
}

func (s *Server) confirmExit(r *http.Request, sess *session.Session) error {
	return s.cfg.Controller.ConfirmExit(r.Context(), sess)
}

func (s *Server) submitFeedback(r *http.Request, sess *session.Session) error {
	var form session.FeedbackForm
	if err := decodeJSON(r, &form); err != nil {
		return err
	}
	return s.cfg.Controller.SubmitFeedback(r.Context(), sess, form)
}

func (s *Server) home(_ *http.Request, sess *session.Session) error {
	return s.cfg.Controller.ReturnHome(sess)
}

// message handles a typed employee line. Clients that accept
// text/event-stream receive the reply as "fragment" events followed by a
// final "session" or "error" event. Requests rejected before the reply
// starts get the same JSON error status as non-streaming clients.
func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		v, err := s.withView(w, r, func(sess *session.Session) error {
			return s.cfg.Controller.SubmitText(r.Context(), sess, req.Text, nil)
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	rc := http.NewResponseController(w)
	var started bool
	begin := func() {
		if started {
			return
		}
		started = true
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}
	v, err := s.withView(w, r, func(sess *session.Session) error {
		if err := sess.CheckMessage(req.Text); err != nil {
			return err
		}
		begin()
		return s.cfg.Controller.SubmitText(r.Context(), sess, req.Text, func(fragment string) {
			writeEvent(w, "fragment", map[string]string{"text": fragment})
			_ = rc.Flush()
		})
	})
	if err != nil && !started {
		writeError(w, r, err)
		return
	}
	if err != nil {
		writeEvent(w, "error", errorBody{Error: err.Error()})
	} else {
		writeEvent(w, "session", v)
	}
	_ = rc.Flush()
}

func writeEvent(w io.Writer, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{"error":"encode event"}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

type voiceResponse struct {
	Text    string `json:"text"`
	Session View   `json:"session"`
}

// voice handles a recorded employee line uploaded as the multipart field
// "audio".
func (s *Server) voice(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxVoiceBody)
	f, hdr, err := r.FormFile("audio")
	if err != nil {
		writeError(w, r, badRequest("read audio: %v", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		writeError(w, r, badRequest("read audio: %v", err))
		return
	}
	if len(data) == 0 {
		writeError(w, r, badRequest("empty audio"))
		return
	}
	clip := speech.Clip{Data: data, MIMEType: hdr.Header.Get("Content-Type")}

	var text string
	v, err := s.withView(w, r, func(sess *session.Session) error {
		var err error
		text, err = s.cfg.Controller.SubmitVoice(r.Context(), sess, clip, nil)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Text: text, Session: v})
}

// latestAudio streams the most recently synthesised customer line.
func (s *Server) latestAudio(w http.ResponseWriter, r *http.Request) {
	var clip *session.Clip
	if err := s.with(w, r, func(sess *session.Session) error {
		clip = sess.LastClip
		return nil
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if clip == nil || len(clip.Data) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no audio yet"})
		return
	}
	mime := clip.MIMEType
	if mime == "" {
		mime = "audio/mpeg"
	}
	w.Header().Set("Content-Type", mime)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Audio-Seq", fmt.Sprint(clip.Seq))
	_, _ = w.Write(clip.Data)
}
