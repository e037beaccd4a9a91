package engine_test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
)

func TestCreateTeam(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t)

	first, err := f.eng.CreateTeam(ctx, s.ID, engine.TeamParams{Name: "  Los Cóndores  "})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if first.Name != "Los Cóndores" {
		t.Errorf("name = %q, want trimmed", first.Name)
	}
	if first.Color == "" || first.Emoji == "" {
		t.Errorf("palette = %q / %q, want defaults drawn", first.Color, first.Emoji)
	}
	if first.JoinOrder != 1 || !first.IsActive || first.Score != 0 {
		t.Errorf("team = %+v, want active, join order 1, score 0", first)
	}

	second, err := f.eng.CreateTeam(ctx, s.ID, engine.TeamParams{Name: "Las Vicuñas", Color: "#000000", Emoji: "🦙"})
	if err != nil {
		t.Fatalf("create second team: %v", err)
	}
	if second.Color != "#000000" || second.Emoji != "🦙" {
		t.Errorf("palette = %q / %q, want the requested one", second.Color, second.Emoji)
	}
	if second.JoinOrder != 2 {
		t.Errorf("join order = %d, want 2", second.JoinOrder)
	}

	ev, ok := f.rec.last(engine.EventTeamJoined)
	if !ok || ev.Payload.(engine.TeamJoined).TeamID != second.ID {
		t.Errorf("last team.joined = %+v, want %s", ev, second.ID)
	}
}

func TestCreateTeamRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t)
	f.teams(t, s.ID, "Los Cóndores")

	tests := []struct {
		name string
		team string
		kind arena.Kind
		err  error
	}{
		{"same name other case", "LOS CÓNDORES", arena.KindConflict, arena.ErrNameTaken},
		{"same name padded", "\tlos cóndores ", arena.KindConflict, arena.ErrNameTaken},
		{"blank", "   ", arena.KindValidation, nil},
		{"too long", strings.Repeat("ñ", 51), arena.KindValidation, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.eng.CreateTeam(ctx, s.ID, engine.TeamParams{Name: tt.team})
			wantKind(t, err, tt.kind)
			if tt.err != nil {
				wantErr(t, err, tt.err)
			}
		})
	}
}

func TestCreateTeamCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s, err := f.eng.Create(ctx, engine.CreateParams{ShowID: "show-1", MaxTeams: 3})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	var g errgroup.Group
	results := make([]error, 8)
	for i := range results {
		g.Go(func() error {
			_, results[i] = f.eng.CreateTeam(ctx, s.ID, engine.TeamParams{Name: teamNames(8)[i]})
			return nil
		})
	}
	g.Wait()

	created := 0
	for _, err := range results {
		switch {
		case err == nil:
			created++
		case arena.KindOf(err) != arena.KindConflict:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 3 {
		t.Fatalf("created = %d teams, want 3", created)
	}
	teams, err := f.eng.Teams(ctx, s.ID)
	if err != nil {
		t.Fatalf("teams: %v", err)
	}
	if len(teams) != 3 {
		t.Errorf("stored teams = %d, want 3", len(teams))
	}

	_, err = f.eng.CreateTeam(ctx, s.ID, engine.TeamParams{Name: "Late"})
	wantErr(t, err, arena.ErrCapacityExceeded)
}

func TestNameKey(t *testing.T) {
	tests := []struct{ a, b string }{
		{"Alpha", "ALPHA"},
		{" Straße ", "STRASSE"},
		{"Ñandú", "ñandú"},
	}
	for _, tt := range tests {
		if engine.NameKey(tt.a) != engine.NameKey(tt.b) {
			t.Errorf("NameKey(%q) = %q, NameKey(%q) = %q, want equal", tt.a, engine.NameKey(tt.a), tt.b, engine.NameKey(tt.b))
		}
	}
}

func TestScoreChanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t)
	team := f.teams(t, s.ID, "Alpha")[0]

	steps := []struct {
		name       string
		op         func() (arena.Team, error)
		wantScore  int
		wantPoints int
	}{
		{"add", func() (arena.Team, error) { return f.eng.UpdateTeamScore(ctx, team.ID, 30) }, 30, 30},
		{"subtract below zero", func() (arena.Team, error) { return f.eng.UpdateTeamScore(ctx, team.ID, -50) }, -20, -50},
		{"override", func() (arena.Team, error) { return f.eng.SetTeamScore(ctx, team.ID, 200) }, 200, 220},
	}
	for _, step := range steps {
		got, err := step.op()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got.Score != step.wantScore {
			t.Errorf("%s: score = %d, want %d", step.name, got.Score, step.wantScore)
		}
		ev, _ := f.rec.last(engine.EventScoreUpdated)
		p := ev.Payload.(engine.ScoreUpdated)
		if p.Points != step.wantPoints || p.Score != step.wantScore {
			t.Errorf("%s: event = %+v, want points %d score %d", step.name, p, step.wantPoints, step.wantScore)
		}
		if len(p.Leaderboard) != 1 || p.Leaderboard[0].Score != step.wantScore {
			t.Errorf("%s: leaderboard = %+v", step.name, p.Leaderboard)
		}
	}
}

func TestConcurrentScoreDeltas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t)
	team := f.teams(t, s.ID, "Alpha")[0]

	var g errgroup.Group
	for range 50 {
		g.Go(func() error {
			_, err := f.eng.UpdateTeamScore(ctx, team.ID, 10)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("update score: %v", err)
	}

	got, err := f.eng.Team(ctx, team.ID)
	if err != nil {
		t.Fatalf("team: %v", err)
	}
	if got.Score != 500 {
		t.Fatalf("score = %d, want 500", got.Score)
	}
}

func TestLeaderboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t)
	teams := f.teams(t, s.ID, "Alpha", "Bravo", "Charlie", "Delta")

	scores := []int{10, 50, 50, -5}
	for i, sc := range scores {
		if _, err := f.eng.SetTeamScore(ctx, teams[i].ID, sc); err != nil {
			t.Fatalf("set score: %v", err)
		}
	}

	board, err := f.eng.Leaderboard(ctx, s.ID, 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	var names []string
	for i, e := range board {
		if e.Rank != i+1 {
			t.Errorf("%s: rank = %d, want %d", e.Name, e.Rank, i+1)
		}
		names = append(names, e.Name)
	}
	want := []string{"Bravo", "Charlie", "Alpha", "Delta"}
	if !slices.Equal(names, want) {
		t.Fatalf("order = %v, want %v", names, want)
	}

	top, err := f.eng.Leaderboard(ctx, s.ID, 2)
	if err != nil {
		t.Fatalf("leaderboard top 2: %v", err)
	}
	if len(top) != 2 || top[1].Name != "Charlie" {
		t.Errorf("top 2 = %+v", top)
	}
}

func TestRankTieBreak(t *testing.T) {
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	teams := []arena.Team{
		{ID: "t-c", Name: "C", Score: 7, JoinOrder: 3, CreatedAt: created},
		{ID: "t-b", Name: "B", Score: 7, JoinOrder: 2, CreatedAt: created},
		{ID: "t-z", Name: "Z", Score: 7, JoinOrder: 2, CreatedAt: created},
		{ID: "t-a", Name: "A", Score: 9, JoinOrder: 4, CreatedAt: created},
	}
	var got []string
	for _, e := range engine.Rank(teams, 0) {
		got = append(got, e.TeamID)
	}
	want := []string{"t-a", "t-b", "t-z", "t-c"}
	if !slices.Equal(got, want) {
		t.Fatalf("Rank() = %v, want %v", got, want)
	}
	if teams[0].ID != "t-c" {
		t.Error("Rank() reordered its input")
	}
}

func TestRankOrdersAnyScores(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for round := range 200 {
		n := 1 + rng.IntN(30)
		teams := make([]arena.Team, n)
		for i := range teams {
			teams[i] = arena.Team{
				ID:        fmt.Sprintf("t-%02d", i),
				Score:     rng.IntN(41) - 10,
				JoinOrder: rng.IntN(n) + 1,
			}
		}
		limit := rng.IntN(n + 2)

		board := engine.Rank(teams, limit)
		want := n
		if limit > 0 && limit < n {
			want = limit
		}
		if len(board) != want {
			t.Fatalf("round %d: %d entries, want %d", round, len(board), want)
		}
		for i, e := range board {
			if e.Rank != i+1 {
				t.Fatalf("round %d: entry %d has rank %d", round, i, e.Rank)
			}
			if i > 0 && board[i-1].Score < e.Score {
				t.Fatalf("round %d: score %d ranked above %d", round, board[i-1].Score, e.Score)
			}
		}
	}
}

func TestAddPlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	s := f.session(t)
	team := f.teams(t, s.ID, "Alpha")[0]

	p, err := f.eng.AddPlayer(ctx, team.ID, engine.PlayerParams{Nickname: "Maria", DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("add player: %v", err)
	}
	if !p.IsConnected || p.SessionID != s.ID {
		t.Errorf("player = %+v, want connected in %s", p, s.ID)
	}

	if _, err := f.eng.SetPlayerConnected(ctx, p.ID, false); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	ev, ok := f.rec.last(engine.EventPlayerDisconnected)
	if !ok || ev.Payload.(engine.PlayerDisconnected).PlayerID != p.ID {
		t.Fatalf("player.disconnected = %+v, %v", ev, ok)
	}

	again, err := f.eng.AddPlayer(ctx, team.ID, engine.PlayerParams{Nickname: "María", DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if again.ID != p.ID || !again.IsConnected || again.Nickname != "María" {
		t.Errorf("rejoin = %+v, want the same player reconnected", again)
	}

	_, err = f.eng.AddPlayer(ctx, team.ID, engine.PlayerParams{Nickname: " "})
	wantKind(t, err, arena.KindValidation)
	_, err = f.eng.AddPlayer(ctx, "ghost", engine.PlayerParams{Nickname: "Luis"})
	wantErr(t, err, arena.ErrNotFound)
}

func TestAddPlayerCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(o *engine.Options) {
		o.Gate = engine.NewPlanGate(o.Store, nil)
	})
	s, err := f.eng.Create(ctx, engine.CreateParams{ShowID: "show-1", HostID: "host-free"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	team := f.teams(t, s.ID, "Alpha")[0]

	for i := range s.MaxPlayers {
		if _, err := f.eng.AddPlayer(ctx, team.ID, engine.PlayerParams{Nickname: teamNames(s.MaxPlayers)[i]}); err != nil {
			t.Fatalf("player %d: %v", i, err)
		}
	}
	_, err = f.eng.AddPlayer(ctx, team.ID, engine.PlayerParams{Nickname: "One too many"})
	wantErr(t, err, arena.ErrCapacityExceeded)
}
