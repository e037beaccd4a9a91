package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
	"github.com/playperu/quizarena/internal/token"
)

// CreateTeamRequest is the request body for POST /api/sessions/{id}/teams.
type CreateTeamRequest = engine.TeamParams

// CreateTeamResponse carries the new team and the token its members use.
type CreateTeamResponse struct {
	Team  arena.Team `json:"team"`
	Token string     `json:"token"`
}

// AddPlayerRequest is the request body for POST /api/game/players.
type AddPlayerRequest = engine.PlayerParams

// AddPlayerResponse carries the player and a token bound to it.
type AddPlayerResponse struct {
	Player arena.Player `json:"player"`
	Token  string       `json:"token"`
}

// ScoreDeltaRequest is the request body for POST /api/teams/{id}/score.
type ScoreDeltaRequest struct {
	Delta int `json:"delta"`
}

// SetScoreRequest is the request body for PUT /api/teams/{id}/score.
type SetScoreRequest struct {
	Score int `json:"score"`
}

func handleCreateTeam(logger *slog.Logger, eng *engine.Engine, tokens *token.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTeamRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sessionID := chi.URLParam(r, "id")
		team, err := eng.CreateTeam(r.Context(), sessionID, req)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		tok, err := tokens.Issue(sessionID, team.ID, "")
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, CreateTeamResponse{Team: team, Token: tok})
	}
}

func handleAddPlayer(logger *slog.Logger, eng *engine.Engine, tokens *token.Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddPlayerRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		claims := claimsFrom(r)
		p, err := eng.AddPlayer(r.Context(), claims.TeamID, req)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		tok, err := tokens.Issue(claims.SessionID, claims.TeamID, p.ID)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, AddPlayerResponse{Player: p, Token: tok})
	}
}

func handleAddScore(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ScoreDeltaRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		team, err := eng.UpdateTeamScore(r.Context(), chi.URLParam(r, "id"), req.Delta)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	}
}

func handleSetScore(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SetScoreRequest
		if err := readJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		team, err := eng.SetTeamScore(r.Context(), chi.URLParam(r, "id"), req.Score)
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	}
}

func handleListTeams(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		teams, err := eng.Teams(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		if teams == nil {
			teams = []arena.Team{}
		}
		writeJSON(w, http.StatusOK, teams)
	}
}

func handleGetTeam(logger *slog.Logger, eng *engine.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		team, err := eng.Team(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeEngineError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, team)
	}
}
