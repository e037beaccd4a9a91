package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/broadcast"
	"github.com/playperu/quizarena/internal/engine"
	"github.com/playperu/quizarena/internal/handler/health"
	"github.com/playperu/quizarena/internal/store"
	"github.com/playperu/quizarena/internal/token"
)

const operatorKey = "let-me-host"

type testEnv struct {
	srv    *httptest.Server
	eng    *engine.Engine
	broker *broadcast.Broker
	tokens *token.Issuer
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := discardLogger()
	hash, err := bcrypt.GenerateFromPassword([]byte(operatorKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash operator key: %v", err)
	}

	st := store.NewMemory()
	broker := broadcast.NewBroker(logger)
	eng := engine.New(engine.Options{
		Store:       st,
		Catalog:     st,
		Broadcaster: broker,
		Logger:      logger,
	})
	tokens := token.NewIssuer("test-secret", time.Hour)

	srv := httptest.NewServer(NewHandler(logger, Deps{
		Engine:          eng,
		Shows:           st,
		Broker:          broker,
		Tokens:          tokens,
		OperatorKeyHash: hash,
		Checks:          map[string]health.Checker{},
	}))
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, eng: eng, broker: broker, tokens: tokens}
}

// do sends a JSON request and decodes a JSON response into out when out is
// not nil. It returns the status code and the raw body.
func (e *testEnv) do(t *testing.T, method, path, bearer string, body, out any) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if out != nil && resp.StatusCode < 300 {
		if err := json.Unmarshal(raw, out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp.StatusCode, raw
}

func (e *testEnv) must(t *testing.T, want int, method, path, bearer string, body, out any) {
	t.Helper()
	if status, raw := e.do(t, method, path, bearer, body, out); status != want {
		t.Fatalf("%s %s: status = %d, want %d (%s)", method, path, status, want, raw)
	}
}

func demoShowRequest() ShowRequest {
	return ShowRequest{
		Title: "Noche de trivia",
		Rounds: []arena.Round{
			{ID: "r1", Title: "Geografía", Questions: []arena.Question{
				{ID: "q1", Type: arena.QuestionQCM, Title: "Capital del Perú", BasePoints: 100,
					Options: []arena.Option{{ID: "a", Text: "Lima", IsCorrect: true}, {ID: "b", Text: "Cusco"}}},
				{ID: "q2", Type: arena.QuestionText, Title: "Río que cruza Lima"},
			}},
		},
	}
}

// lobby imports the demo show and opens a session with the given teams.
func (e *testEnv) lobby(t *testing.T, names ...string) (arena.Session, []CreateTeamResponse) {
	t.Helper()
	e.must(t, http.StatusOK, http.MethodPut, "/api/shows/show-1", operatorKey, demoShowRequest(), nil)

	var s arena.Session
	e.must(t, http.StatusCreated, http.MethodPost, "/api/sessions", operatorKey, CreateSessionRequest{ShowID: "show-1"}, &s)

	var teams []CreateTeamResponse
	for _, name := range names {
		var tr CreateTeamResponse
		e.must(t, http.StatusCreated, http.MethodPost, "/api/sessions/"+s.ID+"/teams", "", CreateTeamRequest{Name: name}, &tr)
		teams = append(teams, tr)
	}
	return s, teams
}

func (e *testEnv) running(t *testing.T, names ...string) (arena.Session, []CreateTeamResponse) {
	t.Helper()
	s, teams := e.lobby(t, names...)
	e.must(t, http.StatusOK, http.MethodPost, "/api/sessions/"+s.ID+"/start", operatorKey, nil, nil)
	e.must(t, http.StatusOK, http.MethodPost, "/api/sessions/"+s.ID+"/question", operatorKey, SetQuestionRequest{QuestionID: "q1"}, nil)
	return s, teams
}

func errorCode(t *testing.T, raw []byte) string {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		t.Fatalf("decode error body %s: %v", raw, err)
	}
	return er.Code
}

func TestGameFlow(t *testing.T) {
	e := newTestEnv(t)
	s, teams := e.lobby(t, "Alpha", "Bravo")
	alpha, bravo := teams[0], teams[1]

	if s.Status != arena.StatusLobby || len(s.PinCode) != 6 {
		t.Fatalf("session = %+v", s)
	}
	var byPin arena.Session
	e.must(t, http.StatusOK, http.MethodGet, "/api/pin/"+s.PinCode, "", nil, &byPin)
	if byPin.ID != s.ID {
		t.Fatalf("pin resolves to %s, want %s", byPin.ID, s.ID)
	}

	var started arena.Session
	e.must(t, http.StatusOK, http.MethodPost, "/api/sessions/"+s.ID+"/start", operatorKey, nil, &started)
	if started.Status != arena.StatusRunning || started.StartedAt == nil {
		t.Fatalf("started = %+v", started)
	}
	e.must(t, http.StatusOK, http.MethodPost, "/api/sessions/"+s.ID+"/question", operatorKey, SetQuestionRequest{QuestionID: "q1"}, nil)

	var res engine.BuzzResult
	e.must(t, http.StatusOK, http.MethodPost, "/api/game/buzz", alpha.Token, BuzzRequest{}, &res)
	if !res.IsFirst || res.Attempt.Seq != 1 || res.Attempt.TeamID != alpha.Team.ID {
		t.Fatalf("buzz = %+v", res)
	}
	status, raw := e.do(t, http.MethodPost, "/api/game/buzz", bravo.Token, BuzzRequest{}, nil)
	if status != http.StatusConflict || errorCode(t, raw) != string(arena.CodeBuzzerLocked) {
		t.Fatalf("late buzz = %d %s, want 409 BUZZER_LOCKED", status, raw)
	}

	var answer arena.Answer
	e.must(t, http.StatusCreated, http.MethodPost, "/api/game/answer", alpha.Token,
		AnswerRequest{Payload: arena.Payload{SelectedOptions: []string{"a"}}}, &answer)
	if answer.QuestionID != "q1" || !answer.WasFirstToAnswer || answer.ValidationStatus != arena.ValidationPending {
		t.Fatalf("answer = %+v", answer)
	}
	status, raw = e.do(t, http.MethodPost, "/api/game/answer", alpha.Token,
		AnswerRequest{Payload: arena.Payload{SelectedOptions: []string{"b"}}}, nil)
	if status != http.StatusConflict || errorCode(t, raw) != string(arena.CodeDuplicateAnswer) {
		t.Fatalf("second answer = %d %s, want 409 DUPLICATE_ANSWER", status, raw)
	}

	var validated arena.Answer
	e.must(t, http.StatusOK, http.MethodPost, "/api/answers/"+answer.ID+"/validate", operatorKey,
		ValidateRequest{Status: arena.ValidationCorrect}, &validated)
	if validated.PointsAwarded != 150 || validated.ValidatedAt == nil {
		t.Fatalf("validated = %+v", validated)
	}

	var team arena.Team
	e.must(t, http.StatusOK, http.MethodPost, "/api/teams/"+bravo.Team.ID+"/score", operatorKey, ScoreDeltaRequest{Delta: 20}, &team)
	if team.Score != 20 {
		t.Fatalf("bravo score = %d, want 20", team.Score)
	}

	var board []arena.LeaderboardEntry
	e.must(t, http.StatusOK, http.MethodGet, "/api/sessions/"+s.ID+"/leaderboard", "", nil, &board)
	if len(board) != 2 || board[0].TeamID != alpha.Team.ID || board[0].Score != 150 || board[0].Rank != 1 {
		t.Fatalf("leaderboard = %+v", board)
	}
	e.must(t, http.StatusOK, http.MethodGet, "/api/sessions/"+s.ID+"/leaderboard?limit=1", "", nil, &board)
	if len(board) != 1 {
		t.Fatalf("limited leaderboard = %+v", board)
	}

	var order []arena.BuzzAttempt
	e.must(t, http.StatusOK, http.MethodGet, "/api/sessions/"+s.ID+"/questions/q1/buzzes", "", nil, &order)
	if len(order) != 1 || order[0].TeamID != alpha.Team.ID {
		t.Fatalf("buzzes = %+v", order)
	}

	var finished arena.Session
	e.must(t, http.StatusOK, http.MethodPost, "/api/sessions/"+s.ID+"/finish", operatorKey, nil, &finished)
	if finished.Status != arena.StatusFinished {
		t.Fatalf("finished = %+v", finished)
	}
	status, _ = e.do(t, http.MethodGet, "/api/pin/"+s.PinCode, "", nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("pin of finished session = %d, want 404", status)
	}
}

func TestAutoValidateRoute(t *testing.T) {
	e := newTestEnv(t)
	s, teams := e.running(t, "Alpha", "Bravo")

	picks := []string{"a", "b"}
	for i, tr := range teams {
		e.must(t, http.StatusCreated, http.MethodPost, "/api/game/answer", tr.Token,
			AnswerRequest{QuestionID: "q1", Payload: arena.Payload{SelectedOptions: []string{picks[i]}}}, nil)
	}

	var answers []arena.Answer
	e.must(t, http.StatusOK, http.MethodPost, "/api/sessions/"+s.ID+"/questions/q1/autovalidate", operatorKey, nil, &answers)
	if len(answers) != 2 {
		t.Fatalf("validated = %d answers, want 2", len(answers))
	}
	for _, a := range answers {
		want := arena.ValidationIncorrect
		if a.TeamID == teams[0].Team.ID {
			want = arena.ValidationCorrect
		}
		if a.ValidationStatus != want {
			t.Errorf("team %s: status = %s, want %s", a.TeamID, a.ValidationStatus, want)
		}
	}
}

func TestReadRoutes(t *testing.T) {
	e := newTestEnv(t)
	s, teams := e.running(t, "Alpha", "Bravo")

	var roster []arena.Team
	e.must(t, http.StatusOK, http.MethodGet, "/api/sessions/"+s.ID+"/teams", "", nil, &roster)
	if len(roster) != 2 {
		t.Fatalf("teams = %+v", roster)
	}
	var team arena.Team
	e.must(t, http.StatusOK, http.MethodGet, "/api/teams/"+teams[1].Team.ID, "", nil, &team)
	if team.Name != "Bravo" || team.SessionID != s.ID {
		t.Fatalf("team = %+v", team)
	}
	if status, _ := e.do(t, http.MethodGet, "/api/teams/ghost", "", nil, nil); status != http.StatusNotFound {
		t.Fatalf("unknown team = %d, want 404", status)
	}

	answersPath := "/api/sessions/" + s.ID + "/questions/q1/answers"
	var answers []arena.Answer
	e.must(t, http.StatusOK, http.MethodGet, answersPath, operatorKey, nil, &answers)
	if answers == nil || len(answers) != 0 {
		t.Fatalf("answers before submissions = %v, want empty list", answers)
	}

	for _, tr := range teams {
		e.must(t, http.StatusCreated, http.MethodPost, "/api/game/answer", tr.Token,
			AnswerRequest{Payload: arena.Payload{SelectedOptions: []string{"a"}}}, nil)
	}
	e.must(t, http.StatusOK, http.MethodGet, answersPath, operatorKey, nil, &answers)
	if len(answers) != 2 {
		t.Fatalf("answers = %+v", answers)
	}
	for _, a := range answers {
		if a.QuestionID != "q1" || a.ValidationStatus != arena.ValidationPending {
			t.Errorf("answer = %+v", a)
		}
	}

	if status, _ := e.do(t, http.MethodGet, answersPath, "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("answers without operator key = %d, want 401", status)
	}
	if status, _ := e.do(t, http.MethodGet, "/api/sessions/nope/questions/q1/answers", operatorKey, nil, nil); status != http.StatusNotFound {
		t.Fatalf("answers of unknown session = %d, want 404", status)
	}
}

func TestAddPlayerIssuesPlayerToken(t *testing.T) {
	e := newTestEnv(t)
	s, teams := e.lobby(t, "Alpha")

	var resp AddPlayerResponse
	e.must(t, http.StatusCreated, http.MethodPost, "/api/game/players", teams[0].Token, AddPlayerRequest{Nickname: "Maria"}, &resp)
	if resp.Player.TeamID != teams[0].Team.ID || resp.Player.SessionID != s.ID {
		t.Fatalf("player = %+v", resp.Player)
	}
	claims, err := e.tokens.Parse(resp.Token)
	if err != nil {
		t.Fatalf("parse player token: %v", err)
	}
	if claims.PlayerID != resp.Player.ID || claims.TeamID != teams[0].Team.ID {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestOperatorAuth(t *testing.T) {
	e := newTestEnv(t)
	s, _ := e.lobby(t)

	tests := []struct {
		name   string
		bearer string
		want   int
	}{
		{"missing key", "", http.StatusUnauthorized},
		{"wrong key", "guess", http.StatusUnauthorized},
		{"operator key", operatorKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := e.do(t, http.MethodPost, "/api/sessions/"+s.ID+"/buzzer/lock", tt.bearer, nil, nil)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%s)", status, tt.want, raw)
			}
		})
	}

	teamToken, err := e.tokens.Issue(s.ID, "t1", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	status, _ := e.do(t, http.MethodPost, "/api/sessions", teamToken, CreateSessionRequest{ShowID: "show-1"}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("team token on operator route = %d, want 401", status)
	}
}

func TestTeamAuth(t *testing.T) {
	e := newTestEnv(t)
	e.running(t, "Alpha")

	foreign, err := token.NewIssuer("other-secret", time.Hour).Issue("s1", "t1", "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	for name, bearer := range map[string]string{
		"missing":      "",
		"garbage":      "abc.def.ghi",
		"wrong secret": foreign,
		"operator key": operatorKey,
	} {
		t.Run(name, func(t *testing.T) {
			status, _ := e.do(t, http.MethodPost, "/api/game/buzz", bearer, BuzzRequest{}, nil)
			if status != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", status)
			}
		})
	}
}

func TestErrorStatus(t *testing.T) {
	e := newTestEnv(t)
	s, teams := e.lobby(t, "Alpha")

	tests := []struct {
		name     string
		method   string
		path     string
		bearer   string
		body     any
		want     int
		wantCode arena.Code
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", "", nil, http.StatusNotFound, arena.CodeNotFound},
		{"unknown pin", http.MethodGet, "/api/pin/ZZZZZZ", "", nil, http.StatusNotFound, arena.CodeNotFound},
		{"duplicate team name", http.MethodPost, "/api/sessions/" + s.ID + "/teams", "", CreateTeamRequest{Name: "ALPHA"}, http.StatusConflict, arena.CodeNameTaken},
		{"blank team name", http.MethodPost, "/api/sessions/" + s.ID + "/teams", "", CreateTeamRequest{Name: " "}, http.StatusBadRequest, arena.CodeInvalidArgument},
		{"pause from lobby", http.MethodPost, "/api/sessions/" + s.ID + "/pause", operatorKey, nil, http.StatusConflict, arena.CodeInvalidTransition},
		{"question while in lobby", http.MethodPost, "/api/sessions/" + s.ID + "/question", operatorKey, SetQuestionRequest{QuestionID: "q1"}, http.StatusConflict, arena.CodeInvalidTransition},
		{"buzz without question", http.MethodPost, "/api/game/buzz", teams[0].Token, BuzzRequest{}, http.StatusConflict, arena.CodeQuestionInactive},
		{"empty payload", http.MethodPost, "/api/game/answer", teams[0].Token, AnswerRequest{QuestionID: "q1"}, http.StatusBadRequest, arena.CodeInvalidPayload},
		{"unknown verdict", http.MethodPost, "/api/answers/nope/validate", operatorKey, ValidateRequest{Status: "maybe"}, http.StatusBadRequest, arena.CodeInvalidArgument},
		{"unknown answer", http.MethodPost, "/api/answers/nope/validate", operatorKey, ValidateRequest{Status: arena.ValidationCorrect}, http.StatusNotFound, arena.CodeNotFound},
		{"question without id", http.MethodPut, "/api/shows/s1", operatorKey, ShowRequest{Rounds: []arena.Round{{ID: "r1", Questions: []arena.Question{{}}}}}, http.StatusBadRequest, arena.CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := e.do(t, tt.method, tt.path, tt.bearer, tt.body, nil)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%s)", status, tt.want, raw)
			}
			if code := errorCode(t, raw); code != string(tt.wantCode) {
				t.Errorf("code = %s, want %s", code, tt.wantCode)
			}
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/sessions/"+s.ID+"/teams", bytes.NewReader([]byte("{")))
		resp, err := e.srv.Client().Do(req)
		if err != nil {
			t.Fatalf("request: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
	})
}

func TestWriteEngineError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		want    int
		wantMsg string
	}{
		{"not found", arena.NotFound("team"), http.StatusNotFound, "team not found"},
		{"wrapped conflict", fmt.Errorf("buzz: %w", arena.ErrBuzzerLocked), http.StatusConflict, "buzzer is locked"},
		{"forbidden", arena.ErrDailyLimit, http.StatusForbidden, "daily session limit reached"},
		{"validation", arena.Invalid("bad"), http.StatusBadRequest, "bad"},
		{"unclassified", errors.New("disk on fire"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			writeEngineError(rec, req, discardLogger(), tt.err)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			var er ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&er); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if er.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", er.Error, tt.wantMsg)
			}
		})
	}
}
