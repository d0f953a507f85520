package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/session"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 50
)

func (s *Server) menu(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Content.Menu())
}

func (s *Server) guidelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Content.Guidelines())
}

func (s *Server) instructions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"text": s.cfg.Content.Instructions()})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	files := s.cfg.Gateway.ListFiles(r.Context(), s.cfg.ConversationsFolder, persistence.MIMEText)
	if files == nil {
		files = []persistence.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) searchConversations(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "search is not configured"})
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, badRequest("missing query parameter q"))
		return
	}
	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, badRequest("invalid limit %q", raw))
			return
		}
		limit = min(n, maxSearchLimit)
	}

	hits, err := s.search.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hits == nil {
		writeJSON(w, http.StatusOK, []struct{}{})
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

type conversationResponse struct {
	ID       string                          `json:"id"`
	Content  string                          `json:"content"`
	Document *persistence.TranscriptDocument `json:"document,omitempty"`
}

// getConversation returns a stored transcript. The parsed form is included
// when the file follows the transcript layout.
func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, r, badRequest("missing conversation id"))
		return
	}
	data, err := s.cfg.Gateway.DownloadFile(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := conversationResponse{ID: id, Content: string(data)}
	if doc, err := persistence.ParseTranscriptDocument(resp.Content); err == nil {
		resp.Document = &doc
	}
	writeJSON(w, http.StatusOK, resp)
}

type generalFeedbackResponse struct {
	Record  persistence.FeedbackRecord `json:"record"`
	Session View                       `json:"session"`
}

func (s *Server) generalFeedback(w http.ResponseWriter, r *http.Request) {
	var form persistence.GeneralFeedback
	if err := decodeJSON(r, &form); err != nil {
		writeError(w, r, err)
		return
	}
	var rec persistence.FeedbackRecord
	v, err := s.withView(w, r, func(sess *session.Session) error {
		var err error
		rec, err = s.cfg.Controller.SubmitGeneralFeedback(r.Context(), sess, form)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generalFeedbackResponse{Record: rec, Session: v})
}

var errNoAnalytics = errors.New("analytics are not configured")

// analytics serves the conversation statistics, the feedback statistics or
// both, selected by the "type" query parameter.
func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Analytics == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errNoAnalytics.Error()})
		return
	}
	ctx := r.Context()
	var (
		body any
		err  error
	)
	switch kind := r.URL.Query().Get("type"); kind {
	case "":
		body, err = s.cfg.Analytics.Dashboard(ctx)
	case "conversation":
		body, err = s.cfg.Analytics.Conversations(ctx)
	case "feedback":
		body, err = s.cfg.Analytics.Feedback(ctx)
	default:
		err = badRequest("unknown analytics type %q", kind)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
