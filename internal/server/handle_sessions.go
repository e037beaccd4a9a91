package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
)

// CreateSessionRequest is the request body for POST /api/sessions.
type CreateSessionRequest = engine.CreateParams

// SetQuestionRequest is the request body for POST /api/sessions/{id}/question.
type SetQuestionRequest struct {
	RoundID    string `json:"roundId,omitempty"`
	QuestionID string `json:"questionId"`
}

// FinalistsRequest is the request body for PUT /api/sessions/{id}/finalists.
type FinalistsRequest struct {
	TeamIDs []string `json:"teamIds"`
}

func handleCreateSession(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateSessionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s, err := eng.Create(r.Context(), req)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, s)
	}
}

func handleGetSession(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := eng.Session(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleSessionByPin(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := eng.SessionByPin(r.Context(), chi.URLParam(r, "pin"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

// sessionCommand adapts an engine command that takes only the session id.
func sessionCommand(logger *slog.Logger, cmd func(context.Context, string) (arena.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := cmd(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleStart(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return sessionCommand(logger, eng.Start)
}

func handlePause(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return sessionCommand(logger, eng.Pause)
}

func handleFinish(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return sessionCommand(logger, eng.Finish)
}

func handleStopQuestion(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return sessionCommand(logger, eng.StopQuestion)
}

func handleLockBuzzer(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return sessionCommand(logger, eng.LockBuzzer)
}

func handleUnlockBuzzer(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return sessionCommand(logger, eng.UnlockBuzzer)
}

func handleSetQuestion(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetQuestionRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.QuestionID == "" {
			writeError(w, http.StatusBadRequest, "questionId is required")
			return
		}
		s, err := eng.SetCurrentQuestion(r.Context(), chi.URLParam(r, "id"), req.RoundID, req.QuestionID)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleSetFinalists(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FinalistsRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		s, err := eng.SetFinalists(r.Context(), chi.URLParam(r, "id"), req.TeamIDs)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	}
}

func handleBuzzerOrder(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		attempts, err := eng.BuzzerOrder(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "qid"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		if attempts == nil {
			attempts = []arena.BuzzAttempt{}
		}
		writeJSON(w, http.StatusOK, attempts)
	}
}

func handleAutoValidate(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		answers, err := eng.AutoValidateQCM(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "qid"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		if answers == nil {
			answers = []arena.Answer{}
		}
		writeJSON(w, http.StatusOK, answers)
	}
}

func handleLeaderboard(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "limit must be an integer")
				return
			}
			limit = n
		}
		board, err := eng.Leaderboard(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, board)
	}
}
