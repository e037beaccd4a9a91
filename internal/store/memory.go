// Package store implements engine.Store in memory and on SQL.
package store

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
)

// Memory keeps everything in process. Each session lives in its own
// partition; an Update works on a copy that replaces the partition only when
// the callback succeeds.
type Memory struct {
	mu        sync.RWMutex
	sessions  map[string]*partition
	pins      map[string]string // active pin -> session id
	teams     map[string]string // team id -> session id
	players   map[string]string
	answers   map[string]answerRef
	hostStats []hostSession
	questions map[string]arena.Question
	shows     map[string]arena.Show
}

type answerRef struct {
	sessionID  string
	questionID string
}

type hostSession struct {
	hostID    string
	createdAt time.Time
}

type partition struct {
	mu    sync.RWMutex
	state sessionState
}

type sessionState struct {
	session  arena.Session
	teams    map[string]arena.Team
	players  map[string]arena.Player
	attempts []arena.BuzzAttempt
	answers  map[string]arena.Answer
}

func (s sessionState) clone() sessionState {
	c := s
	c.session.Flags.FinalistTeamIDs = slices.Clone(s.session.Flags.FinalistTeamIDs)
	c.teams = maps.Clone(s.teams)
	c.players = maps.Clone(s.players)
	c.attempts = slices.Clone(s.attempts)
	c.answers = maps.Clone(s.answers)
	return c
}

func NewMemory() *Memory {
	return &Memory{
		sessions:  make(map[string]*partition),
		pins:      make(map[string]string),
		teams:     make(map[string]string),
		players:   make(map[string]string),
		answers:   make(map[string]answerRef),
		questions: make(map[string]arena.Question),
		shows:     make(map[string]arena.Show),
	}
}

func (m *Memory) CreateSession(_ context.Context, s arena.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pins[s.PinCode]; ok {
		return engine.ErrPinTaken
	}
	m.sessions[s.ID] = &partition{state: sessionState{
		session: s,
		teams:   make(map[string]arena.Team),
		players: make(map[string]arena.Player),
		answers: make(map[string]arena.Answer),
	}}
	m.pins[s.PinCode] = s.ID
	if s.HostID != "" {
		m.hostStats = append(m.hostStats, hostSession{hostID: s.HostID, createdAt: s.CreatedAt})
	}
	return nil
}

func (m *Memory) PinActive(_ context.Context, pin string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pins[pin]
	return ok, nil
}

func (m *Memory) SessionByPin(ctx context.Context, pin string) (arena.Session, error) {
	m.mu.RLock()
	id, ok := m.pins[pin]
	m.mu.RUnlock()
	if !ok {
		return arena.Session{}, arena.NotFound("session")
	}
	var s arena.Session
	err := m.View(ctx, id, func(r engine.SessionReader) error {
		var err error
		s, err = r.Session(ctx)
		return err
	})
	return s, err
}

func (m *Memory) CountHostSessionsSince(_ context.Context, hostID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, h := range m.hostStats {
		if h.hostID == hostID && !h.createdAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SessionOfTeam(_ context.Context, teamID string) (string, error) {
	return m.lookup(m.teams, teamID, "team")
}

func (m *Memory) SessionOfPlayer(_ context.Context, playerID string) (string, error) {
	return m.lookup(m.players, playerID, "player")
}

func (m *Memory) AnswerRef(_ context.Context, answerID string) (string, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.answers[answerID]
	if !ok {
		return "", "", arena.NotFound("answer")
	}
	return ref.sessionID, ref.questionID, nil
}

func (m *Memory) lookup(index map[string]string, id, resource string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sid, ok := index[id]
	if !ok {
		return "", arena.NotFound(resource)
	}
	return sid, nil
}

func (m *Memory) partition(sessionID string) (*partition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.sessions[sessionID]
	if !ok {
		return nil, arena.NotFound("session")
	}
	return p, nil
}

func (m *Memory) Update(_ context.Context, sessionID string, fn func(engine.SessionTx) error) error {
	p, err := m.partition(sessionID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &memTx{state: p.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	oldPin := p.state.session.PinCode
	if p.state.session.Status.Active() && !tx.state.session.Status.Active() {
		delete(m.pins, oldPin)
	}
	for _, id := range tx.newTeams {
		m.teams[id] = sessionID
	}
	for _, id := range tx.newPlayers {
		m.players[id] = sessionID
	}
	for _, a := range tx.newAnswers {
		m.answers[a.ID] = answerRef{sessionID: sessionID, questionID: a.QuestionID}
	}
	p.state = tx.state
	return nil
}

func (m *Memory) View(_ context.Context, sessionID string, fn func(engine.SessionReader) error) error {
	p, err := m.partition(sessionID)
	if err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return fn(&memTx{state: p.state})
}

// memTx reads and writes a private copy of a partition.
type memTx struct {
	state      sessionState
	newTeams   []string
	newPlayers []string
	newAnswers []arena.Answer
}

func (t *memTx) Session(context.Context) (arena.Session, error) {
	s := t.state.session
	s.Flags.FinalistTeamIDs = slices.Clone(s.Flags.FinalistTeamIDs)
	return s, nil
}

func (t *memTx) Teams(context.Context) ([]arena.Team, error) {
	teams := slices.Collect(maps.Values(t.state.teams))
	slices.SortFunc(teams, func(a, b arena.Team) int { return a.JoinOrder - b.JoinOrder })
	return teams, nil
}

func (t *memTx) Team(_ context.Context, teamID string) (arena.Team, error) {
	team, ok := t.state.teams[teamID]
	if !ok {
		return arena.Team{}, arena.NotFound("team")
	}
	return team, nil
}

func (t *memTx) Players(context.Context) ([]arena.Player, error) {
	players := slices.Collect(maps.Values(t.state.players))
	slices.SortFunc(players, func(a, b arena.Player) int {
		return cmp.Or(a.JoinedAt.Compare(b.JoinedAt), strings.Compare(a.ID, b.ID))
	})
	return players, nil
}

func (t *memTx) Player(_ context.Context, playerID string) (arena.Player, error) {
	p, ok := t.state.players[playerID]
	if !ok {
		return arena.Player{}, arena.NotFound("player")
	}
	return p, nil
}

func (t *memTx) Attempts(_ context.Context, questionID string) ([]arena.BuzzAttempt, error) {
	var out []arena.BuzzAttempt
	for _, a := range t.state.attempts {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b arena.BuzzAttempt) int { return a.Seq - b.Seq })
	return out, nil
}

func (t *memTx) Answer(_ context.Context, answerID string) (arena.Answer, error) {
	a, ok := t.state.answers[answerID]
	if !ok {
		return arena.Answer{}, arena.NotFound("answer")
	}
	return a, nil
}

func (t *memTx) AnswerFor(_ context.Context, teamID, questionID string) (arena.Answer, error) {
	for _, a := range t.state.answers {
		if a.TeamID == teamID && a.QuestionID == questionID {
			return a, nil
		}
	}
	return arena.Answer{}, arena.NotFound("answer")
}

func (t *memTx) Answers(_ context.Context, questionID string) ([]arena.Answer, error) {
	var out []arena.Answer
	for _, a := range t.state.answers {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b arena.Answer) int {
		return cmp.Or(a.SubmittedAt.Compare(b.SubmittedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *memTx) PutSession(_ context.Context, s arena.Session) error {
	t.state.session = s
	return nil
}

func (t *memTx) InsertTeam(_ context.Context, team arena.Team) error {
	key := engine.NameKey(team.Name)
	for _, existing := range t.state.teams {
		if engine.NameKey(existing.Name) == key {
			return arena.ErrNameTaken
		}
	}
	t.state.teams[team.ID] = team
	t.newTeams = append(t.newTeams, team.ID)
	return nil
}

func (t *memTx) AddScore(_ context.Context, teamID string, delta int) (int, error) {
	team, ok := t.state.teams[teamID]
	if !ok {
		return 0, arena.NotFound("team")
	}
	team.Score += delta
	t.state.teams[teamID] = team
	return team.Score, nil
}

func (t *memTx) SetScore(_ context.Context, teamID string, score int) error {
	team, ok := t.state.teams[teamID]
	if !ok {
		return arena.NotFound("team")
	}
	team.Score = score
	t.state.teams[teamID] = team
	return nil
}

func (t *memTx) InsertPlayer(_ context.Context, p arena.Player) error {
	if _, ok := t.state.teams[p.TeamID]; !ok {
		return arena.NotFound("team")
	}
	t.state.players[p.ID] = p
	t.newPlayers = append(t.newPlayers, p.ID)
	return nil
}

func (t *memTx) PutPlayer(_ context.Context, p arena.Player) error {
	if _, ok := t.state.players[p.ID]; !ok {
		return arena.NotFound("player")
	}
	t.state.players[p.ID] = p
	return nil
}

func (t *memTx) InsertAttempt(_ context.Context, a arena.BuzzAttempt) error {
	for _, existing := range t.state.attempts {
		if existing.QuestionID != a.QuestionID {
			continue
		}
		if existing.TeamID == a.TeamID {
			return arena.ErrDuplicateAttempt
		}
		if existing.IsFirst && a.IsFirst {
			return arena.ErrBuzzerLocked
		}
	}
	t.state.attempts = append(t.state.attempts, a)
	return nil
}

func (t *memTx) DeleteAttempts(_ context.Context, questionID string) error {
	t.state.attempts = slices.DeleteFunc(t.state.attempts, func(a arena.BuzzAttempt) bool {
		return a.QuestionID == questionID
	})
	return nil
}

func (t *memTx) ClearAttempts(context.Context) error {
	t.state.attempts = nil
	return nil
}

func (t *memTx) InsertAnswer(_ context.Context, a arena.Answer) error {
	for _, existing := range t.state.answers {
		if existing.TeamID == a.TeamID && existing.QuestionID == a.QuestionID {
			return arena.ErrDuplicateAnswer
		}
	}
	t.state.answers[a.ID] = a
	t.newAnswers = append(t.newAnswers, a)
	return nil
}

func (t *memTx) PutAnswer(_ context.Context, a arena.Answer) error {
	if _, ok := t.state.answers[a.ID]; !ok {
		return arena.NotFound("answer")
	}
	t.state.answers[a.ID] = a
	return nil
}

// PutShow replaces a show and its questions in the catalog.
func (m *Memory) PutShow(_ context.Context, show arena.Show) error {
	show, err := NormalizeShow(show)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range showQuestions(show) {
		if existing, ok := m.questions[q.ID]; ok && existing.ShowID != show.ID {
			return arena.Invalid(fmt.Sprintf("question id %s belongs to another show", q.ID))
		}
	}
	if old, ok := m.shows[show.ID]; ok {
		for _, r := range old.Rounds {
			for _, q := range r.Questions {
				delete(m.questions, q.ID)
			}
		}
	}
	for _, q := range showQuestions(show) {
		m.questions[q.ID] = q
	}
	m.shows[show.ID] = show
	return nil
}

func (m *Memory) Question(_ context.Context, id string) (arena.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.questions[id]
	if !ok {
		return arena.Question{}, arena.NotFound("question")
	}
	return q, nil
}
