package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
)

// BuzzRequest is the request body for POST /api/game/buzz. An empty
// questionId means the session's current question.
type BuzzRequest struct {
	QuestionID string `json:"questionId,omitempty"`
}

// AnswerRequest is the request body for POST /api/game/answer.
type AnswerRequest struct {
	QuestionID string        `json:"questionId,omitempty"`
	Payload    arena.Payload `json:"payload"`
}

// ValidateRequest is the request body for POST /api/answers/{id}/validate.
type ValidateRequest struct {
	Status       arena.ValidationStatus `json:"status"`
	CustomPoints *int                   `json:"customPoints,omitempty"`
}

func handleBuzz(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req BuzzRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		claims := claimsFrom(r)
		res, err := buzz(r.Context(), eng, claims.SessionID, claims.TeamID, req.QuestionID)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleAnswer(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AnswerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		claims := claimsFrom(r)
		a, err := submitAnswer(r.Context(), eng, claims.SessionID, claims.TeamID, req)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func handleValidateAnswer(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ValidateRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		a, err := eng.ValidateAnswer(r.Context(), chi.URLParam(r, "id"), req.Status, req.CustomPoints)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleListAnswers(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		answers, err := eng.Answers(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "qid"))
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

func currentQuestion(ctx context.Context, eng *engine.Engine, sessionID, questionID string) (string, error) {
	if questionID != "" {
		return questionID, nil
	}
	s, err := eng.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.CurrentQuestionID == "" {
		return "", arena.ErrQuestionInactive
	}
	return s.CurrentQuestionID, nil
}

// buzz and submitAnswer are shared by the HTTP and WebSocket transports.
func buzz(ctx context.Context, eng *engine.Engine, sessionID, teamID, questionID string) (engine.BuzzResult, error) {
	qid, err := currentQuestion(ctx, eng, sessionID, questionID)
	if err != nil {
		return engine.BuzzResult{}, err
	}
	return eng.Buzz(ctx, sessionID, qid, teamID)
}

// submitAnswer marks the answer as first when the team holds the winning
// buzz of the question.
func submitAnswer(ctx context.Context, eng *engine.Engine, sessionID, teamID string, req AnswerRequest) (arena.Answer, error) {
	qid, err := currentQuestion(ctx, eng, sessionID, req.QuestionID)
	if err != nil {
		return arena.Answer{}, err
	}
	first, ok, err := eng.FirstBuzz(ctx, sessionID, qid)
	if err != nil {
		return arena.Answer{}, err
	}
	return eng.SubmitAnswer(ctx, teamID, qid, req.Payload, ok && first.TeamID == teamID)
}
