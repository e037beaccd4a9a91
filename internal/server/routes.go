package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"

	"github.com/playperu/quizarena/internal/handler/health"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps) {
	eng := d.Engine
	ws := newWSHandler(logger, eng, d.Broker, d.Tokens)

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("QuizArena API", "/openapi.json", "/docs"))
	r.Mount("/healthz", health.NewHandler(logger, d.Checks).Routes())

	// Public reads and team registration.
	r.Get("/api/sessions/{id}", handleGetSession(logger, eng))
	r.Get("/api/pin/{pin}", handleSessionByPin(logger, eng))
	r.Get("/api/sessions/{id}/leaderboard", handleLeaderboard(logger, eng))
	r.Get("/api/sessions/{id}/questions/{qid}/buzzes", handleBuzzerOrder(logger, eng))
	r.Get("/api/sessions/{id}/events", handleEvents(logger, eng, d.Broker))
	r.Get("/api/sessions/{id}/teams", handleListTeams(logger, eng))
	r.Post("/api/sessions/{id}/teams", handleCreateTeam(logger, eng, d.Tokens))
	r.Get("/api/teams/{id}", handleGetTeam(logger, eng))
	r.Get("/ws/sessions/{id}", ws.serve)

	// Participant routes, authorized by a team token.
	r.Route("/api/game", func(r chi.Router) {
		r.Use(teamAuthMiddleware(d.Tokens))
		r.Post("/players", handleAddPlayer(logger, eng, d.Tokens))
		r.Post("/buzz", handleBuzz(logger, eng))
		r.Post("/answer", handleAnswer(logger, eng))
	})

	// Operator routes.
	r.Group(func(r chi.Router) {
		r.Use(operatorAuthMiddleware(d.OperatorKeyHash))

		r.Post("/api/sessions", handleCreateSession(logger, eng))
		r.Post("/api/sessions/{id}/start", handleStart(logger, eng))
		r.Post("/api/sessions/{id}/pause", handlePause(logger, eng))
		r.Post("/api/sessions/{id}/finish", handleFinish(logger, eng))
		r.Post("/api/sessions/{id}/question", handleSetQuestion(logger, eng))
		r.Post("/api/sessions/{id}/question/stop", handleStopQuestion(logger, eng))
		r.Post("/api/sessions/{id}/buzzer/lock", handleLockBuzzer(logger, eng))
		r.Post("/api/sessions/{id}/buzzer/unlock", handleUnlockBuzzer(logger, eng))
		r.Put("/api/sessions/{id}/finalists", handleSetFinalists(logger, eng))
		r.Get("/api/sessions/{id}/questions/{qid}/answers", handleListAnswers(logger, eng))
		r.Post("/api/sessions/{id}/questions/{qid}/autovalidate", handleAutoValidate(logger, eng))
		r.Post("/api/answers/{id}/validate", handleValidateAnswer(logger, eng))
		r.Post("/api/teams/{id}/score", handleAddScore(logger, eng))
		r.Put("/api/teams/{id}/score", handleSetScore(logger, eng))
		r.Put("/api/shows/{id}", handlePutShow(logger, d.Shows))
	})
}
