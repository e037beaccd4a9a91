package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/quizarena/internal/arena"
)

// ShowRequest is the request body for PUT /api/shows/{id}.
type ShowRequest struct {
	Title  string        `json:"title"`
	Rounds []arena.Round `json:"rounds"`
}

func handlePutShow(logger *slog.Logger, shows ShowImporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ShowRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		show := arena.Show{ID: chi.URLParam(r, "id"), Title: req.Title, Rounds: req.Rounds}
		if err := shows.PutShow(r.Context(), show); err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, show)
	}
}
