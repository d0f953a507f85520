package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/MrWong99/burgerxpress/internal/chatsim"
	"github.com/MrWong99/burgerxpress/internal/coaching"
	"github.com/MrWong99/burgerxpress/internal/observe"
	"github.com/MrWong99/burgerxpress/internal/persistence"
	"github.com/MrWong99/burgerxpress/internal/resilience"
	"github.com/MrWong99/burgerxpress/internal/session"
	"github.com/MrWong99/burgerxpress/internal/speech"
)

// errBadRequest marks malformed client input.
var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// statusOf maps an error to the HTTP status reported to the client.
func statusOf(err error) int {
	var perr *coaching.ParseError
	switch {
	case errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, errBadRequest),
		errors.Is(err, session.ErrEmptyInput),
		errors.Is(err, session.ErrInvalidRating):
		return http.StatusBadRequest
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatsim.ErrExternal),
		errors.Is(err, coaching.ErrExternal),
		errors.As(err, &perr),
		errors.Is(err, speech.ErrTranscription),
		errors.Is(err, speech.ErrSynthesis),
		errors.Is(err, persistence.ErrPersistence),
		errors.Is(err, resilience.ErrAllFailed),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("web: request failed", "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("web: request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
	}
}

// decodeJSON reads a size-limited JSON body into v. An empty body leaves
// v untouched.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxJSONBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return badRequest("decode body: %v", err)
	}
	return nil
}
