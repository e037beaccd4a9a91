package engine

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/quizarena/internal/arena"
)

type BuzzResult struct {
	Attempt arena.BuzzAttempt `json:"attempt"`
	IsFirst bool              `json:"isFirst"`
}

// Buzz records a team's buzz for the current question. The first attempt
// that reaches the arbiter wins and locks the buzzer in the same
// transaction.
func (e *Engine) Buzz(ctx context.Context, sessionID, questionID, teamID string) (_ BuzzResult, err error) {
	ctx, span := e.startSpan(ctx, "Buzz",
		attribute.String("session.id", sessionID),
		attribute.String("question.id", questionID),
		attribute.String("team.id", teamID),
	)
	defer func() { endSpan(span, err) }()

	var res BuzzResult
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if _, err := tx.Team(ctx, teamID); err != nil {
			return err
		}
		switch {
		case s.Status == arena.StatusFinished:
			return arena.ErrSessionFinished
		case s.Status != arena.StatusRunning, s.CurrentQuestionID != questionID:
			return arena.ErrQuestionInactive
		case s.Flags.BuzzerLocked:
			return arena.ErrBuzzerLocked
		}

		attempts, err := tx.Attempts(ctx, questionID)
		if err != nil {
			return err
		}
		hasWinner := false
		for _, a := range attempts {
			if a.TeamID == teamID {
				return arena.ErrDuplicateAttempt
			}
			hasWinner = hasWinner || a.IsFirst
		}

		a := arena.BuzzAttempt{
			ID:         newID(),
			SessionID:  sessionID,
			QuestionID: questionID,
			TeamID:     teamID,
			Seq:        len(attempts) + 1,
			IsFirst:    !hasWinner,
			CreatedAt:  e.now().UTC(),
		}
		if err := tx.InsertAttempt(ctx, a); err != nil {
			return err
		}
		if a.IsFirst {
			s.Flags.BuzzerLocked = true
			if err := tx.PutSession(ctx, s); err != nil {
				return err
			}
		}

		res = BuzzResult{Attempt: a, IsFirst: a.IsFirst}
		box.emit(EventBuzzPressed, BuzzPressed{TeamID: teamID, QuestionID: questionID, IsFirst: a.IsFirst, Seq: a.Seq})
		if a.IsFirst {
			box.emit(EventBuzzerLocked, BuzzerLocked{TeamID: teamID, QuestionID: questionID})
		}
		return nil
	})
	if err != nil {
		if arena.KindOf(err) == arena.KindConflict {
			e.logger.Debug("buzz rejected", "session_id", sessionID, "team_id", teamID, "reason", err)
		}
		return BuzzResult{}, err
	}
	return res, nil
}

func (e *Engine) LockBuzzer(ctx context.Context, sessionID string) (arena.Session, error) {
	return e.setBuzzerLock(ctx, sessionID, true)
}

func (e *Engine) UnlockBuzzer(ctx context.Context, sessionID string) (arena.Session, error) {
	return e.setBuzzerLock(ctx, sessionID, false)
}

func (e *Engine) setBuzzerLock(ctx context.Context, sessionID string, locked bool) (_ arena.Session, err error) {
	op := "UnlockBuzzer"
	if locked {
		op = "LockBuzzer"
	}
	ctx, span := e.startSpan(ctx, op, attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var out arena.Session
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if s.Status == arena.StatusFinished {
			return arena.ErrSessionFinished
		}
		s.Flags.BuzzerLocked = locked
		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		out = s
		if locked {
			box.emit(EventBuzzerLocked, BuzzerLocked{QuestionID: s.CurrentQuestionID})
		} else {
			box.emit(EventBuzzerUnlocked, BuzzerUnlocked{QuestionID: s.CurrentQuestionID})
		}
		return nil
	})
	return out, err
}

// BuzzerOrder returns the attempts of a question in arrival order.
func (e *Engine) BuzzerOrder(ctx context.Context, sessionID, questionID string) ([]arena.BuzzAttempt, error) {
	var attempts []arena.BuzzAttempt
	err := e.view(ctx, sessionID, func(r SessionReader) error {
		var err error
		attempts, err = r.Attempts(ctx, questionID)
		return err
	})
	return attempts, err
}

// FirstBuzz returns the winning attempt of a question, if there is one.
func (e *Engine) FirstBuzz(ctx context.Context, sessionID, questionID string) (arena.BuzzAttempt, bool, error) {
	attempts, err := e.BuzzerOrder(ctx, sessionID, questionID)
	if err != nil {
		return arena.BuzzAttempt{}, false, err
	}
	for _, a := range attempts {
		if a.IsFirst {
			return a, true, nil
		}
	}
	return arena.BuzzAttempt{}, false, nil
}

// ResetForQuestion discards the attempts of one question.
func (e *Engine) ResetForQuestion(ctx context.Context, sessionID, questionID string) error {
	return e.mutate(ctx, sessionID, func(tx SessionTx, _ *outbox) error {
		if _, err := tx.Session(ctx); err != nil {
			return err
		}
		return tx.DeleteAttempts(ctx, questionID)
	})
}

// isNotFound reports whether err is a lookup miss.
func isNotFound(err error) bool {
	return errors.Is(err, arena.ErrNotFound)
}
