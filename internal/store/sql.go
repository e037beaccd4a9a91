package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playperu/quizarena/internal/arena"
	"github.com/playperu/quizarena/internal/engine"
)

// SQL stores sessions in SQLite through libSQL. Uniqueness rules are
// also enforced by the schema, and score changes are applied as in-place
// increments. SQLite allows a single writer, so Updates are serialized
// in process rather than failing on lock upgrades.
type SQL struct {
	db      *sql.DB
	writeMu sync.Mutex
}

func NewSQL(db *sql.DB) *SQL {
	return &SQL{db: db}
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure on one of the given columns.
func isUniqueViolation(err error, columns ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	if len(columns) == 0 {
		return true
	}
	for _, c := range columns {
		if strings.Contains(msg, c) {
			return true
		}
	}
	return false
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `id, show_id, host_id, pin_code, status, current_round_id, current_question_id,
	question_started_at, max_teams, max_players, buzzer_locked, current_round_index,
	current_question_index, finalist_team_ids, created_at, started_at, finished_at`

func scanSession(row interface{ Scan(...any) error }) (arena.Session, error) {
	var (
		s                    arena.Session
		locked               int
		finalists, createdAt string
		questionStartedAt    sql.NullString
		startedAt            sql.NullString
		finishedAt           sql.NullString
	)
	err := row.Scan(&s.ID, &s.ShowID, &s.HostID, &s.PinCode, &s.Status, &s.CurrentRoundID,
		&s.CurrentQuestionID, &questionStartedAt, &s.MaxTeams, &s.MaxPlayers, &locked,
		&s.Flags.CurrentRoundIndex, &s.Flags.CurrentQuestionIndex, &finalists, &createdAt,
		&startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, arena.NotFound("session")
	}
	if err != nil {
		return s, err
	}
	s.Flags.BuzzerLocked = locked == 1
	if err := json.Unmarshal([]byte(finalists), &s.Flags.FinalistTeamIDs); err != nil {
		return s, fmt.Errorf("decoding finalists: %w", err)
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return s, err
	}
	if s.QuestionStartedAt, err = parseTimePtr(questionStartedAt); err != nil {
		return s, err
	}
	if s.StartedAt, err = parseTimePtr(startedAt); err != nil {
		return s, err
	}
	if s.FinishedAt, err = parseTimePtr(finishedAt); err != nil {
		return s, err
	}
	return s, nil
}

func (s *SQL) CreateSession(ctx context.Context, sess arena.Session) error {
	finalists, err := json.Marshal(nonNil(sess.Flags.FinalistTeamIDs))
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.ShowID, sess.HostID, sess.PinCode, sess.Status, sess.CurrentRoundID,
		sess.CurrentQuestionID, formatTimePtr(sess.QuestionStartedAt), sess.MaxTeams, sess.MaxPlayers,
		boolInt(sess.Flags.BuzzerLocked), sess.Flags.CurrentRoundIndex, sess.Flags.CurrentQuestionIndex,
		string(finalists), formatTime(sess.CreatedAt), formatTimePtr(sess.StartedAt), formatTimePtr(sess.FinishedAt))
	if isUniqueViolation(err, "pin_code") {
		return engine.ErrPinTaken
	}
	return err
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func (s *SQL) PinActive(ctx context.Context, pin string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE pin_code = ? AND status != 'finished'
	`, pin).Scan(&n)
	return n > 0, err
}

func (s *SQL) SessionByPin(ctx context.Context, pin string) (arena.Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE pin_code = ? AND status != 'finished'
	`, pin))
}

func (s *SQL) CountHostSessionsSince(ctx context.Context, hostID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM sessions WHERE host_id = ? AND created_at >= ?
	`, hostID, formatTime(since)).Scan(&n)
	return n, err
}

func (s *SQL) SessionOfTeam(ctx context.Context, teamID string) (string, error) {
	return s.sessionOf(ctx, `SELECT session_id FROM teams WHERE id = ?`, teamID, "team")
}

func (s *SQL) SessionOfPlayer(ctx context.Context, playerID string) (string, error) {
	return s.sessionOf(ctx, `SELECT session_id FROM players WHERE id = ?`, playerID, "player")
}

func (s *SQL) sessionOf(ctx context.Context, query, id, resource string) (string, error) {
	var sid string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&sid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", arena.NotFound(resource)
	}
	return sid, err
}

func (s *SQL) AnswerRef(ctx context.Context, answerID string) (string, string, error) {
	var sid, qid string
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, question_id FROM answers WHERE id = ?
	`, answerID).Scan(&sid, &qid)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", arena.NotFound("answer")
	}
	return sid, qid, err
}

func (s *SQL) Update(ctx context.Context, sessionID string, fn func(engine.SessionTx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stx := &sqlTx{q: tx, sessionID: sessionID}
	if _, err := stx.Session(ctx); err != nil {
		return err
	}
	if err := fn(stx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQL) View(ctx context.Context, sessionID string, fn func(engine.SessionReader) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stx := &sqlTx{q: tx, sessionID: sessionID}
	if _, err := stx.Session(ctx); err != nil {
		return err
	}
	return fn(stx)
}

// sqlTx scopes every statement to one session.
type sqlTx struct {
	q         querier
	sessionID string
}

func (t *sqlTx) Session(ctx context.Context) (arena.Session, error) {
	return scanSession(t.q.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions WHERE id = ?
	`, t.sessionID))
}

func (t *sqlTx) PutSession(ctx context.Context, sess arena.Session) error {
	finalists, err := json.Marshal(nonNil(sess.Flags.FinalistTeamIDs))
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		UPDATE sessions SET
			status = ?, current_round_id = ?, current_question_id = ?, question_started_at = ?,
			max_teams = ?, max_players = ?, buzzer_locked = ?, current_round_index = ?,
			current_question_index = ?, finalist_team_ids = ?, started_at = ?, finished_at = ?
		WHERE id = ?
	`, sess.Status, sess.CurrentRoundID, sess.CurrentQuestionID, formatTimePtr(sess.QuestionStartedAt),
		sess.MaxTeams, sess.MaxPlayers, boolInt(sess.Flags.BuzzerLocked), sess.Flags.CurrentRoundIndex,
		sess.Flags.CurrentQuestionIndex, string(finalists), formatTimePtr(sess.StartedAt),
		formatTimePtr(sess.FinishedAt), t.sessionID)
	return err
}

const teamColumns = `id, session_id, name, color, emoji, score, is_active, join_order, created_at`

func scanTeam(row interface{ Scan(...any) error }) (arena.Team, error) {
	var (
		tm        arena.Team
		active    int
		createdAt string
	)
	err := row.Scan(&tm.ID, &tm.SessionID, &tm.Name, &tm.Color, &tm.Emoji, &tm.Score, &active, &tm.JoinOrder, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tm, arena.NotFound("team")
	}
	if err != nil {
		return tm, err
	}
	tm.IsActive = active == 1
	tm.CreatedAt, err = parseTime(createdAt)
	return tm, err
}

func (t *sqlTx) Teams(ctx context.Context) ([]arena.Team, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+teamColumns+` FROM teams WHERE session_id = ? ORDER BY join_order
	`, t.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []arena.Team
	for rows.Next() {
		tm, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		teams = append(teams, tm)
	}
	return teams, rows.Err()
}

func (t *sqlTx) Team(ctx context.Context, teamID string) (arena.Team, error) {
	return scanTeam(t.q.QueryRowContext(ctx, `
		SELECT `+teamColumns+` FROM teams WHERE id = ? AND session_id = ?
	`, teamID, t.sessionID))
}

func (t *sqlTx) InsertTeam(ctx context.Context, tm arena.Team) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO teams (id, session_id, name, name_key, color, emoji, score, is_active, join_order, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tm.ID, t.sessionID, tm.Name, engine.NameKey(tm.Name), tm.Color, tm.Emoji, tm.Score,
		boolInt(tm.IsActive), tm.JoinOrder, formatTime(tm.CreatedAt))
	if isUniqueViolation(err, "name_key") {
		return arena.ErrNameTaken
	}
	return err
}

func (t *sqlTx) AddScore(ctx context.Context, teamID string, delta int) (int, error) {
	var score int
	err := t.q.QueryRowContext(ctx, `
		UPDATE teams SET score = score + ? WHERE id = ? AND session_id = ?
		RETURNING score
	`, delta, teamID, t.sessionID).Scan(&score)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, arena.NotFound("team")
	}
	return score, err
}

func (t *sqlTx) SetScore(ctx context.Context, teamID string, score int) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE teams SET score = ? WHERE id = ? AND session_id = ?
	`, score, teamID, t.sessionID)
	if err != nil {
		return err
	}
	return expectRow(res, "team")
}

func expectRow(res sql.Result, resource string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return arena.NotFound(resource)
	}
	return nil
}

const playerColumns = `id, session_id, team_id, nickname, device_id, is_connected, joined_at, last_seen_at`

func scanPlayer(row interface{ Scan(...any) error }) (arena.Player, error) {
	var (
		p                  arena.Player
		connected          int
		joinedAt, lastSeen string
	)
	err := row.Scan(&p.ID, &p.SessionID, &p.TeamID, &p.Nickname, &p.DeviceID, &connected, &joinedAt, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return p, arena.NotFound("player")
	}
	if err != nil {
		return p, err
	}
	p.IsConnected = connected == 1
	if p.JoinedAt, err = parseTime(joinedAt); err != nil {
		return p, err
	}
	p.LastSeenAt, err = parseTime(lastSeen)
	return p, err
}

func (t *sqlTx) Players(ctx context.Context) ([]arena.Player, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE session_id = ? ORDER BY joined_at, id
	`, t.sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var players []arena.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	return players, rows.Err()
}

func (t *sqlTx) Player(ctx context.Context, playerID string) (arena.Player, error) {
	return scanPlayer(t.q.QueryRowContext(ctx, `
		SELECT `+playerColumns+` FROM players WHERE id = ? AND session_id = ?
	`, playerID, t.sessionID))
}

func (t *sqlTx) InsertPlayer(ctx context.Context, p arena.Player) error {
	if _, err := t.Team(ctx, p.TeamID); err != nil {
		return err
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO players (id, session_id, team_id, nickname, device_id, is_connected, joined_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, t.sessionID, p.TeamID, p.Nickname, p.DeviceID, boolInt(p.IsConnected),
		formatTime(p.JoinedAt), formatTime(p.LastSeenAt))
	return err
}

func (t *sqlTx) PutPlayer(ctx context.Context, p arena.Player) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE players SET nickname = ?, is_connected = ?, last_seen_at = ?
		WHERE id = ? AND session_id = ?
	`, p.Nickname, boolInt(p.IsConnected), formatTime(p.LastSeenAt), p.ID, t.sessionID)
	if err != nil {
		return err
	}
	return expectRow(res, "player")
}

func (t *sqlTx) Attempts(ctx context.Context, questionID string) ([]arena.BuzzAttempt, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, session_id, question_id, team_id, seq, is_first, created_at
		FROM buzz_attempts
		WHERE session_id = ? AND question_id = ?
		ORDER BY seq
	`, t.sessionID, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []arena.BuzzAttempt
	for rows.Next() {
		var (
			a         arena.BuzzAttempt
			first     int
			createdAt string
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &a.TeamID, &a.Seq, &first, &createdAt); err != nil {
			return nil, err
		}
		a.IsFirst = first == 1
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

func (t *sqlTx) InsertAttempt(ctx context.Context, a arena.BuzzAttempt) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO buzz_attempts (id, session_id, question_id, team_id, seq, is_first, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, t.sessionID, a.QuestionID, a.TeamID, a.Seq, boolInt(a.IsFirst), formatTime(a.CreatedAt))
	switch {
	case isUniqueViolation(err, "buzz_attempts.team_id"):
		return arena.ErrDuplicateAttempt
	case isUniqueViolation(err):
		return arena.ErrBuzzerLocked
	}
	return err
}

func (t *sqlTx) DeleteAttempts(ctx context.Context, questionID string) error {
	_, err := t.q.ExecContext(ctx, `
		DELETE FROM buzz_attempts WHERE session_id = ? AND question_id = ?
	`, t.sessionID, questionID)
	return err
}

func (t *sqlTx) ClearAttempts(ctx context.Context) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM buzz_attempts WHERE session_id = ?`, t.sessionID)
	return err
}

const answerColumns = `id, session_id, team_id, question_id, json(payload), validation_status,
	points_awarded, was_first_to_answer, submitted_at, validated_at`

func scanAnswer(row interface{ Scan(...any) error }) (arena.Answer, error) {
	var (
		a                    arena.Answer
		payload, submittedAt string
		first                int
		validatedAt          sql.NullString
	)
	err := row.Scan(&a.ID, &a.SessionID, &a.TeamID, &a.QuestionID, &payload, &a.ValidationStatus,
		&a.PointsAwarded, &first, &submittedAt, &validatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, arena.NotFound("answer")
	}
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal([]byte(payload), &a.Payload); err != nil {
		return a, fmt.Errorf("decoding answer payload: %w", err)
	}
	a.WasFirstToAnswer = first == 1
	if a.SubmittedAt, err = parseTime(submittedAt); err != nil {
		return a, err
	}
	a.ValidatedAt, err = parseTimePtr(validatedAt)
	return a, err
}

func (t *sqlTx) Answer(ctx context.Context, answerID string) (arena.Answer, error) {
	return scanAnswer(t.q.QueryRowContext(ctx, `
		SELECT `+answerColumns+` FROM answers WHERE id = ? AND session_id = ?
	`, answerID, t.sessionID))
}

func (t *sqlTx) AnswerFor(ctx context.Context, teamID, questionID string) (arena.Answer, error) {
	return scanAnswer(t.q.QueryRowContext(ctx, `
		SELECT `+answerColumns+` FROM answers WHERE team_id = ? AND question_id = ? AND session_id = ?
	`, teamID, questionID, t.sessionID))
}

func (t *sqlTx) Answers(ctx context.Context, questionID string) ([]arena.Answer, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT `+answerColumns+` FROM answers
		WHERE session_id = ? AND question_id = ?
		ORDER BY submitted_at, id
	`, t.sessionID, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []arena.Answer
	for rows.Next() {
		a, err := scanAnswer(rows)
		if err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

func (t *sqlTx) InsertAnswer(ctx context.Context, a arena.Answer) error {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return err
	}
	_, err = t.q.ExecContext(ctx, `
		INSERT INTO answers (id, session_id, team_id, question_id, payload, validation_status,
			points_awarded, was_first_to_answer, submitted_at, validated_at)
		VALUES (?, ?, ?, ?, jsonb(?), ?, ?, ?, ?, ?)
	`, a.ID, t.sessionID, a.TeamID, a.QuestionID, string(payload), a.ValidationStatus,
		a.PointsAwarded, boolInt(a.WasFirstToAnswer), formatTime(a.SubmittedAt), formatTimePtr(a.ValidatedAt))
	if isUniqueViolation(err, "answers.team_id") {
		return arena.ErrDuplicateAnswer
	}
	return err
}

func (t *sqlTx) PutAnswer(ctx context.Context, a arena.Answer) error {
	res, err := t.q.ExecContext(ctx, `
		UPDATE answers SET validation_status = ?, points_awarded = ?, validated_at = ?
		WHERE id = ? AND session_id = ?
	`, a.ValidationStatus, a.PointsAwarded, formatTimePtr(a.ValidatedAt), a.ID, t.sessionID)
	if err != nil {
		return err
	}
	return expectRow(res, "answer")
}

// PutShow replaces a show and its questions in the catalog.
func (s *SQL) PutShow(ctx context.Context, show arena.Show) error {
	show, err := NormalizeShow(show)
	if err != nil {
		return err
	}
	data, err := json.Marshal(show)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE show_id = ?`, show.ID); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO shows (id, title, data) VALUES (?, ?, jsonb(?))
		ON CONFLICT (id) DO UPDATE SET title = excluded.title, data = excluded.data
	`, show.ID, show.Title, string(data))
	if err != nil {
		return err
	}
	for _, q := range showQuestions(show) {
		qd, err := json.Marshal(q)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO questions (id, show_id, data) VALUES (?, ?, jsonb(?))
		`, q.ID, show.ID, string(qd))
		if isUniqueViolation(err) {
			return arena.Invalid(fmt.Sprintf("question id %s belongs to another show", q.ID))
		}
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQL) Question(ctx context.Context, id string) (arena.Question, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT json(data) FROM questions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return arena.Question{}, arena.NotFound("question")
	}
	if err != nil {
		return arena.Question{}, err
	}
	var q arena.Question
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return arena.Question{}, fmt.Errorf("decoding question: %w", err)
	}
	return q, nil
}
