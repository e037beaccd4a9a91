package engine

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/cases"

	"github.com/playperu/quizarena/internal/arena"
)

const maxNameLength = 50

var (
	teamColors = []string{
		"#FF6B6B", "#4ECDC4", "#45B7D1", "#FFA07A", "#98D8C8",
		"#F7DC6F", "#BB8FCE", "#85C1E2", "#F8B739", "#52B788",
	}
	teamEmojis = []string{
		"🚀", "⚡", "🔥", "🎯", "🌟", "💫", "🎸",
		"🎤", "🎵", "🎶", "🎹", "🥁", "🎺", "🎷",
	}
)

// NameKey is the form team names are compared in: trimmed and Unicode
// case-folded.
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

type TeamParams struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

func (e *Engine) CreateTeam(ctx context.Context, sessionID string, p TeamParams) (_ arena.Team, err error) {
	ctx, span := e.startSpan(ctx, "CreateTeam", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	name := strings.TrimSpace(p.Name)
	if name == "" {
		return arena.Team{}, arena.Invalid("team name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return arena.Team{}, arena.Invalid("team name is too long")
	}

	var out arena.Team
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if s.Status == arena.StatusFinished {
			return arena.ErrSessionFinished
		}
		teams, err := tx.Teams(ctx)
		if err != nil {
			return err
		}
		if s.MaxTeams > 0 && len(teams) >= s.MaxTeams {
			return arena.ErrCapacityExceeded
		}
		key := NameKey(name)
		joinOrder := 1
		for _, t := range teams {
			if NameKey(t.Name) == key {
				return arena.ErrNameTaken
			}
			joinOrder = max(joinOrder, t.JoinOrder+1)
		}

		t := arena.Team{
			ID:        newID(),
			SessionID: sessionID,
			Name:      name,
			Color:     p.Color,
			Emoji:     p.Emoji,
			IsActive:  true,
			JoinOrder: joinOrder,
			CreatedAt: e.now().UTC(),
		}
		if t.Color == "" {
			t.Color = teamColors[e.rand.IntN(len(teamColors))]
		}
		if t.Emoji == "" {
			t.Emoji = teamEmojis[e.rand.IntN(len(teamEmojis))]
		}
		if err := tx.InsertTeam(ctx, t); err != nil {
			return err
		}
		out = t
		box.emit(EventTeamJoined, TeamJoined{TeamID: t.ID, Name: t.Name, Color: t.Color, Emoji: t.Emoji})
		e.logger.Info("team joined", "session_id", sessionID, "team_id", t.ID, "name", t.Name)
		return nil
	})
	return out, err
}

// UpdateTeamScore adds delta to the team score.
func (e *Engine) UpdateTeamScore(ctx context.Context, teamID string, delta int) (arena.Team, error) {
	return e.changeScore(ctx, teamID, "UpdateTeamScore", func(tx SessionTx, t arena.Team) (int, error) {
		if _, err := tx.AddScore(ctx, teamID, delta); err != nil {
			return 0, err
		}
		return delta, nil
	})
}

// SetTeamScore overrides the team score.
func (e *Engine) SetTeamScore(ctx context.Context, teamID string, score int) (arena.Team, error) {
	return e.changeScore(ctx, teamID, "SetTeamScore", func(tx SessionTx, t arena.Team) (int, error) {
		if err := tx.SetScore(ctx, teamID, score); err != nil {
			return 0, err
		}
		return score - t.Score, nil
	})
}

func (e *Engine) changeScore(ctx context.Context, teamID, op string, apply func(SessionTx, arena.Team) (int, error)) (_ arena.Team, err error) {
	ctx, span := e.startSpan(ctx, op, attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	sessionID, err := e.store.SessionOfTeam(ctx, teamID)
	if err != nil {
		return arena.Team{}, storeErr(err)
	}

	var out arena.Team
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		t, err := tx.Team(ctx, teamID)
		if err != nil {
			return err
		}
		points, err := apply(tx, t)
		if err != nil {
			return err
		}
		if out, err = tx.Team(ctx, teamID); err != nil {
			return err
		}
		board, err := leaderboard(ctx, tx, 0)
		if err != nil {
			return err
		}
		box.emit(EventScoreUpdated, ScoreUpdated{TeamID: teamID, Points: points, Score: out.Score, Leaderboard: board})
		return nil
	})
	return out, err
}

// Leaderboard ranks the teams of a session by score. A limit of zero or less
// returns every team.
func (e *Engine) Leaderboard(ctx context.Context, sessionID string, limit int) ([]arena.LeaderboardEntry, error) {
	var board []arena.LeaderboardEntry
	err := e.view(ctx, sessionID, func(r SessionReader) error {
		if _, err := r.Session(ctx); err != nil {
			return err
		}
		var err error
		board, err = leaderboard(ctx, r, limit)
		return err
	})
	return board, err
}

func leaderboard(ctx context.Context, r SessionReader, limit int) ([]arena.LeaderboardEntry, error) {
	teams, err := r.Teams(ctx)
	if err != nil {
		return nil, err
	}
	return Rank(teams, limit), nil
}

// Rank orders teams by score descending. Ties go to the team that joined
// first, then to the smaller id.
func Rank(teams []arena.Team, limit int) []arena.LeaderboardEntry {
	sorted := slices.Clone(teams)
	slices.SortFunc(sorted, func(a, b arena.Team) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.JoinOrder, b.JoinOrder),
			strings.Compare(a.ID, b.ID),
		)
	})
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	board := make([]arena.LeaderboardEntry, len(sorted))
	for i, t := range sorted {
		board[i] = arena.LeaderboardEntry{
			Rank:   i + 1,
			TeamID: t.ID,
			Name:   t.Name,
			Color:  t.Color,
			Emoji:  t.Emoji,
			Score:  t.Score,
		}
	}
	return board
}

func (e *Engine) Teams(ctx context.Context, sessionID string) ([]arena.Team, error) {
	var teams []arena.Team
	err := e.view(ctx, sessionID, func(r SessionReader) error {
		var err error
		teams, err = r.Teams(ctx)
		return err
	})
	return teams, err
}

func (e *Engine) Team(ctx context.Context, teamID string) (arena.Team, error) {
	sessionID, err := e.store.SessionOfTeam(ctx, teamID)
	if err != nil {
		return arena.Team{}, storeErr(err)
	}
	var t arena.Team
	err = e.view(ctx, sessionID, func(r SessionReader) error {
		var err error
		t, err = r.Team(ctx, teamID)
		return err
	})
	return t, err
}

type PlayerParams struct {
	Nickname string `json:"nickname"`
	DeviceID string `json:"deviceId,omitempty"`
}

// AddPlayer puts a player on a team. A device that already joined the team
// gets its existing player back, marked connected.
func (e *Engine) AddPlayer(ctx context.Context, teamID string, p PlayerParams) (_ arena.Player, err error) {
	ctx, span := e.startSpan(ctx, "AddPlayer", attribute.String("team.id", teamID))
	defer func() { endSpan(span, err) }()

	nickname := strings.TrimSpace(p.Nickname)
	if nickname == "" {
		return arena.Player{}, arena.Invalid("nickname is required")
	}
	if utf8.RuneCountInString(nickname) > maxNameLength {
		return arena.Player{}, arena.Invalid("nickname is too long")
	}
	sessionID, err := e.store.SessionOfTeam(ctx, teamID)
	if err != nil {
		return arena.Player{}, storeErr(err)
	}

	var out arena.Player
	err = e.mutate(ctx, sessionID, func(tx SessionTx, _ *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if s.Status == arena.StatusFinished {
			return arena.ErrSessionFinished
		}
		players, err := tx.Players(ctx)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		if p.DeviceID != "" {
			for _, existing := range players {
				if existing.DeviceID == p.DeviceID && existing.TeamID == teamID {
					existing.Nickname = nickname
					existing.IsConnected = true
					existing.LastSeenAt = now
					out = existing
					return tx.PutPlayer(ctx, existing)
				}
			}
		}
		if s.MaxPlayers > 0 && len(players) >= s.MaxPlayers {
			return arena.ErrCapacityExceeded
		}

		pl := arena.Player{
			ID:          newID(),
			SessionID:   sessionID,
			TeamID:      teamID,
			Nickname:    nickname,
			DeviceID:    p.DeviceID,
			IsConnected: true,
			JoinedAt:    now,
			LastSeenAt:  now,
		}
		if err := tx.InsertPlayer(ctx, pl); err != nil {
			return err
		}
		out = pl
		e.logger.Info("player joined", "session_id", sessionID, "team_id", teamID, "player_id", pl.ID)
		return nil
	})
	return out, err
}

// SetPlayerConnected records presence. A player dropping off emits
// PlayerDisconnected.
func (e *Engine) SetPlayerConnected(ctx context.Context, playerID string, connected bool) (_ arena.Player, err error) {
	ctx, span := e.startSpan(ctx, "SetPlayerConnected", attribute.String("player.id", playerID))
	defer func() { endSpan(span, err) }()

	sessionID, err := e.store.SessionOfPlayer(ctx, playerID)
	if err != nil {
		return arena.Player{}, storeErr(err)
	}

	var out arena.Player
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		p, err := tx.Player(ctx, playerID)
		if err != nil {
			return err
		}
		was := p.IsConnected
		p.IsConnected = connected
		p.LastSeenAt = e.now().UTC()
		if err := tx.PutPlayer(ctx, p); err != nil {
			return err
		}
		out = p
		if was && !connected {
			box.emit(EventPlayerDisconnected, PlayerDisconnected{TeamID: p.TeamID, PlayerID: p.ID})
		}
		return nil
	})
	return out, err
}
