package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/playperu/quizarena/internal/arena"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func statusFor(k arena.Kind) int {
	switch k {
	case arena.KindNotFound:
		return http.StatusNotFound
	case arena.KindConflict:
		return http.StatusConflict
	case arena.KindForbidden:
		return http.StatusForbidden
	case arena.KindValidation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeEngineError maps a classified error to its status. Anything
// unclassified is logged and reported as a bare internal error.
func writeEngineError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var ae *arena.Error
	if errors.As(err, &ae) && ae.Kind() != arena.KindInternal {
		writeJSON(w, statusFor(ae.Kind()), ErrorResponse{Error: ae.Message, Code: string(ae.Code)})
		return
	}
	logger.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", middleware.GetReqID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}
