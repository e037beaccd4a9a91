package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleOpenAPI(t *testing.T) {
	h := handleOpenAPI()
	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	rec := httptest.NewRecorder()

	h(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("content-type = %q, want application/json", got)
	}

	var doc struct {
		Info struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths map[string]map[string]json.RawMessage `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Info.Title != "QuizArena API" {
		t.Errorf("title = %q", doc.Info.Title)
	}

	want := map[string]string{
		"/healthz":                     "get",
		"/api/sessions":                "post",
		"/api/pin/{pin}":               "get",
		"/api/game/buzz":               "post",
		"/api/answers/{id}/validate":   "post",
		"/api/sessions/{id}/events":    "get",
		"/api/teams/{id}/score":        "put",
		"/api/shows/{id}":              "put",
		"/ws/sessions/{id}":            "get",
		"/api/sessions/{id}/finalists": "put",
		"/api/sessions/{id}/teams":     "get",
		"/api/teams/{id}":              "get",
	}
	for path, method := range want {
		if _, ok := doc.Paths[path][method]; !ok {
			t.Errorf("missing %s %s", strings.ToUpper(method), path)
		}
	}
	if _, ok := doc.Paths["/api/sessions/{id}/questions/{qid}/answers"]["get"]; !ok {
		t.Error("missing GET /api/sessions/{id}/questions/{qid}/answers")
	}
}

func TestDocsMounted(t *testing.T) {
	e := newTestEnv(t)
	resp, err := e.srv.Client().Get(e.srv.URL + "/docs/")
	if err != nil {
		t.Fatalf("get docs: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Content-Type"); !strings.Contains(got, "text/html") {
		t.Fatalf("content-type = %q, want text/html", got)
	}
}
