package engine

import (
	"context"
	"errors"
	"time"

	"github.com/playperu/quizarena/internal/arena"
)

// ErrPinTaken is returned by Store.CreateSession when another active
// session already holds the pin code.
var ErrPinTaken = errors.New("pin code already in use")

// Store persists sessions and everything scoped to them. Every mutation of a
// session runs inside Update; the engine serializes Updates per session.
type Store interface {
	CreateSession(ctx context.Context, s arena.Session) error
	PinActive(ctx context.Context, pin string) (bool, error)
	SessionByPin(ctx context.Context, pin string) (arena.Session, error)
	CountHostSessionsSince(ctx context.Context, hostID string, since time.Time) (int, error)

	SessionOfTeam(ctx context.Context, teamID string) (string, error)
	SessionOfPlayer(ctx context.Context, playerID string) (string, error)
	// AnswerRef resolves an answer to its session and question.
	AnswerRef(ctx context.Context, answerID string) (sessionID, questionID string, err error)

	// Update runs fn in a transaction scoped to one session. Nothing fn wrote
	// is visible if it returns an error. Returns arena.ErrNotFound when the
	// session does not exist.
	Update(ctx context.Context, sessionID string, fn func(SessionTx) error) error
	// View runs fn against a committed snapshot of one session.
	View(ctx context.Context, sessionID string, fn func(SessionReader) error) error
}

// SessionReader reads the state of one session. Lookups of ids that belong
// to another session return arena.ErrNotFound.
type SessionReader interface {
	Session(ctx context.Context) (arena.Session, error)
	Teams(ctx context.Context) ([]arena.Team, error)
	Team(ctx context.Context, teamID string) (arena.Team, error)
	Players(ctx context.Context) ([]arena.Player, error)
	Player(ctx context.Context, playerID string) (arena.Player, error)
	// Attempts returns the buzz attempts of a question ordered by seq.
	Attempts(ctx context.Context, questionID string) ([]arena.BuzzAttempt, error)
	Answer(ctx context.Context, answerID string) (arena.Answer, error)
	AnswerFor(ctx context.Context, teamID, questionID string) (arena.Answer, error)
	Answers(ctx context.Context, questionID string) ([]arena.Answer, error)
}

// SessionTx is a SessionReader that can also write.
type SessionTx interface {
	SessionReader

	PutSession(ctx context.Context, s arena.Session) error
	InsertTeam(ctx context.Context, t arena.Team) error
	// AddScore applies delta to the team score and returns the new score.
	AddScore(ctx context.Context, teamID string, delta int) (int, error)
	SetScore(ctx context.Context, teamID string, score int) error
	InsertPlayer(ctx context.Context, p arena.Player) error
	PutPlayer(ctx context.Context, p arena.Player) error
	InsertAttempt(ctx context.Context, a arena.BuzzAttempt) error
	// DeleteAttempts removes the attempts of one question.
	DeleteAttempts(ctx context.Context, questionID string) error
	// ClearAttempts removes every attempt of the session.
	ClearAttempts(ctx context.Context) error
	InsertAnswer(ctx context.Context, a arena.Answer) error
	PutAnswer(ctx context.Context, a arena.Answer) error
}

// QuestionCatalog gives read access to show content.
type QuestionCatalog interface {
	Question(ctx context.Context, id string) (arena.Question, error)
}
