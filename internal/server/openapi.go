package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
	"github.com/playperu/quizarena/internal/handler/health"
)

type operation struct {
	method, path, summary, description string
	req                                any
	resp                               any
	status                             int
	errors                             []int
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "QuizArena API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Real-time quiz sessions: buzzer, answers, scoring and live events.")

	ops := []operation{
		{
			method: http.MethodGet, path: "/healthz",
			summary:     "Health check",
			description: "Checks every backend dependency and reports its status and latency.",
			resp:        health.Report{}, status: http.StatusOK,
		},
		{
			method: http.MethodPost, path: "/api/sessions",
			summary:     "Create session",
			description: "Creates a lobby session with a fresh PIN. Requires the operator key.",
			req:         CreateSessionRequest{}, resp: arena.Session{}, status: http.StatusCreated,
			errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
		},
		{
			method: http.MethodGet, path: "/api/sessions/{id}",
			summary: "Get session",
			resp:    arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodGet, path: "/api/pin/{pin}",
			summary:     "Find session by PIN",
			description: "Resolves the PIN of an active session.",
			resp:        arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/start",
			summary: "Start session", resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/pause",
			summary: "Pause session", resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/finish",
			summary: "Finish session", resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/question",
			summary:     "Set current question",
			description: "Makes a question current, unlocks the buzzer and clears buzz attempts.",
			req:         SetQuestionRequest{}, resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/question/stop",
			summary:     "Stop question",
			description: "Locks the buzzer on the current question.",
			resp:        arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusConflict, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/buzzer/lock",
			summary: "Lock buzzer", resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/buzzer/unlock",
			summary: "Unlock buzzer", resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodPut, path: "/api/sessions/{id}/finalists",
			summary: "Set finalists",
			req:     FinalistsRequest{}, resp: arena.Session{}, status: http.StatusOK,
			errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodGet, path: "/api/sessions/{id}/leaderboard",
			summary:     "Leaderboard",
			description: "Teams ranked by score, then join order. Optional limit query parameter.",
			resp:        []arena.LeaderboardEntry{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodGet, path: "/api/sessions/{id}/questions/{qid}/buzzes",
			summary: "Buzzer order",
			resp:    []arena.BuzzAttempt{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodGet, path: "/api/sessions/{id}/questions/{qid}/answers",
			summary:     "List answers",
			description: "Answers submitted for a question, in submission order. Requires the operator key.",
			resp:        []arena.Answer{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/questions/{qid}/autovalidate",
			summary:     "Auto-validate QCM",
			description: "Validates every pending multiple-choice answer against the correct options.",
			resp:        []arena.Answer{}, status: http.StatusOK,
			errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodGet, path: "/api/sessions/{id}/events",
			summary:     "SSE event stream",
			description: "Server-Sent Events stream of the session's events.",
			status:      http.StatusOK,
			errors:      []int{http.StatusNotFound},
		},
		{
			method: http.MethodGet, path: "/ws/sessions/{id}",
			summary:     "WebSocket channel",
			description: "Streams session events. With a team token in the token query parameter it also accepts buzz and answer commands.",
			status:      http.StatusSwitchingProtocols,
			errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodGet, path: "/api/sessions/{id}/teams",
			summary: "List teams",
			resp:    []arena.Team{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodGet, path: "/api/teams/{id}",
			summary: "Get team",
			resp:    arena.Team{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound},
		},
		{
			method: http.MethodPost, path: "/api/sessions/{id}/teams",
			summary:     "Create team",
			description: "Registers a team in a session and returns its team token.",
			req:         CreateTeamRequest{}, resp: CreateTeamResponse{}, status: http.StatusCreated,
			errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
		},
		{
			method: http.MethodPost, path: "/api/game/players",
			summary:     "Join team",
			description: "Adds a player to the token's team. Requires a team token.",
			req:         AddPlayerRequest{}, resp: AddPlayerResponse{}, status: http.StatusCreated,
			errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
		},
		{
			method: http.MethodPost, path: "/api/game/buzz",
			summary:     "Buzz",
			description: "Records a buzz for the token's team. Requires a team token.",
			req:         BuzzRequest{}, resp: engine.BuzzResult{}, status: http.StatusOK,
			errors: []int{http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
		},
		{
			method: http.MethodPost, path: "/api/game/answer",
			summary:     "Submit answer",
			description: "Submits the team's answer. Requires a team token.",
			req:         AnswerRequest{}, resp: arena.Answer{}, status: http.StatusCreated,
			errors: []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
		},
		{
			method: http.MethodPost, path: "/api/answers/{id}/validate",
			summary:     "Validate answer",
			description: "Sets the verdict and awards points. Re-validation replaces the earlier award.",
			req:         ValidateRequest{}, resp: arena.Answer{}, status: http.StatusOK,
			errors: []int{http.StatusBadRequest, http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodPost, path: "/api/teams/{id}/score",
			summary: "Adjust score",
			req:     ScoreDeltaRequest{}, resp: arena.Team{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodPut, path: "/api/teams/{id}/score",
			summary: "Set score",
			req:     SetScoreRequest{}, resp: arena.Team{}, status: http.StatusOK,
			errors: []int{http.StatusNotFound, http.StatusUnauthorized},
		},
		{
			method: http.MethodPut, path: "/api/shows/{id}",
			summary:     "Import show",
			description: "Creates or replaces a show with its rounds and questions.",
			req:         ShowRequest{}, resp: arena.Show{}, status: http.StatusOK,
			errors: []int{http.StatusBadRequest, http.StatusUnauthorized},
		},
	}

	for _, op := range ops {
		oc, err := r.NewOperationContext(op.method, op.path)
		if err != nil {
			continue
		}
		oc.SetSummary(op.summary)
		if op.description != "" {
			oc.SetDescription(op.description)
		}
		if op.req != nil {
			oc.AddReqStructure(op.req)
		}
		switch op.status {
		case http.StatusSwitchingProtocols:
			oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType("text/plain"))
		default:
			if op.resp == nil {
				oc.AddRespStructure(nil, openapi.WithHTTPStatus(op.status), openapi.WithContentType("text/event-stream"))
			} else {
				oc.AddRespStructure(op.resp, openapi.WithHTTPStatus(op.status))
			}
		}
		for _, code := range op.errors {
			oc.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(code))
		}
		_ = r.AddOperation(oc)
	}

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
