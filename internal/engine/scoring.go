package engine

import (
	"context"
	"math"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/quizarena/internal/arena"
)

const firstAnswerBonus = 1.5

// Points computes the points a verdict is worth. customPoints replaces the
// question's base points for Correct and Partial.
func Points(q arena.Question, status arena.ValidationStatus, customPoints *int, wasFirst bool) int {
	switch status {
	case arena.ValidationCorrect:
		p := q.BasePoints
		if customPoints != nil {
			p = *customPoints
		}
		if wasFirst {
			p = roundHalfUp(float64(p) * firstAnswerBonus)
		}
		return p
	case arena.ValidationPartial:
		if customPoints != nil {
			return *customPoints
		}
		return roundHalfUp(float64(q.BasePoints) * 0.5)
	case arena.ValidationIncorrect:
		if q.Settings.Penalty == nil {
			return 0
		}
		return -*q.Settings.Penalty
	}
	return 0
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}

// SubmitAnswer stores a team's answer as pending.
func (e *Engine) SubmitAnswer(ctx context.Context, teamID, questionID string, payload arena.Payload, wasFirst bool) (_ arena.Answer, err error) {
	ctx, span := e.startSpan(ctx, "SubmitAnswer",
		attribute.String("team.id", teamID),
		attribute.String("question.id", questionID),
	)
	defer func() { endSpan(span, err) }()

	if payload.Variants() != 1 {
		return arena.Answer{}, arena.ErrInvalidPayload
	}
	q, err := e.question(ctx, questionID)
	if err != nil {
		return arena.Answer{}, err
	}
	sessionID, err := e.store.SessionOfTeam(ctx, teamID)
	if err != nil {
		return arena.Answer{}, storeErr(err)
	}

	var out arena.Answer
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if s.Status == arena.StatusFinished {
			return arena.ErrSessionFinished
		}
		if q.ShowID != "" && q.ShowID != s.ShowID {
			return arena.Invalid("question does not belong to the session's show")
		}
		if _, err := tx.AnswerFor(ctx, teamID, questionID); err == nil {
			return arena.ErrDuplicateAnswer
		} else if !isNotFound(err) {
			return err
		}

		a := arena.Answer{
			ID:               newID(),
			SessionID:        sessionID,
			TeamID:           teamID,
			QuestionID:       questionID,
			Payload:          payload,
			ValidationStatus: arena.ValidationPending,
			SubmittedAt:      e.now().UTC(),
			WasFirstToAnswer: wasFirst,
		}
		if err := tx.InsertAnswer(ctx, a); err != nil {
			return err
		}
		out = a
		box.emit(EventAnswerReceived, AnswerReceived{TeamID: teamID, QuestionID: questionID, AnswerID: a.ID})
		return nil
	})
	return out, err
}

// Answers lists the answers to a question in submission order.
func (e *Engine) Answers(ctx context.Context, sessionID, questionID string) ([]arena.Answer, error) {
	var answers []arena.Answer
	err := e.view(ctx, sessionID, func(r SessionReader) error {
		if _, err := r.Session(ctx); err != nil {
			return err
		}
		var err error
		answers, err = r.Answers(ctx, questionID)
		return err
	})
	return answers, err
}

// ValidateAnswer records a verdict and moves the team score by the
// difference between the new points and whatever the answer held before.
func (e *Engine) ValidateAnswer(ctx context.Context, answerID string, status arena.ValidationStatus, customPoints *int) (_ arena.Answer, err error) {
	ctx, span := e.startSpan(ctx, "ValidateAnswer",
		attribute.String("answer.id", answerID),
		attribute.String("status", string(status)),
	)
	defer func() { endSpan(span, err) }()

	if !status.Valid() {
		return arena.Answer{}, arena.Invalid("unknown validation status")
	}
	sessionID, questionID, err := e.store.AnswerRef(ctx, answerID)
	if err != nil {
		return arena.Answer{}, storeErr(err)
	}
	q, err := e.question(ctx, questionID)
	if err != nil {
		return arena.Answer{}, err
	}

	var out arena.Answer
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		a, err := tx.Answer(ctx, answerID)
		if err != nil {
			return err
		}
		out, err = e.applyVerdict(ctx, tx, box, q, a, status, customPoints)
		return err
	})
	return out, err
}

func (e *Engine) applyVerdict(ctx context.Context, tx SessionTx, box *outbox, q arena.Question, a arena.Answer, status arena.ValidationStatus, customPoints *int) (arena.Answer, error) {
	points := Points(q, status, customPoints, a.WasFirstToAnswer)
	delta := points - a.PointsAwarded

	now := e.now().UTC()
	a.ValidationStatus = status
	a.PointsAwarded = points
	a.ValidatedAt = &now
	if status == arena.ValidationPending {
		a.ValidatedAt = nil
	}
	if err := tx.PutAnswer(ctx, a); err != nil {
		return arena.Answer{}, err
	}
	if delta != 0 {
		if _, err := tx.AddScore(ctx, a.TeamID, delta); err != nil {
			return arena.Answer{}, err
		}
	}

	board, err := leaderboard(ctx, tx, 0)
	if err != nil {
		return arena.Answer{}, err
	}
	box.emit(EventAnswerValidated, AnswerValidated{
		AnswerID:      a.ID,
		TeamID:        a.TeamID,
		Status:        status,
		PointsAwarded: points,
		Leaderboard:   board,
	})
	e.logger.Info("answer validated", "answer_id", a.ID, "team_id", a.TeamID, "status", status, "points", points, "delta", delta)
	return a, nil
}

// AutoValidateQCM marks every pending answer of a multiple choice question
// correct when its selected options equal the correct ones, incorrect
// otherwise.
func (e *Engine) AutoValidateQCM(ctx context.Context, sessionID, questionID string) (_ []arena.Answer, err error) {
	ctx, span := e.startSpan(ctx, "AutoValidateQCM",
		attribute.String("session.id", sessionID),
		attribute.String("question.id", questionID),
	)
	defer func() { endSpan(span, err) }()

	q, err := e.question(ctx, questionID)
	if err != nil {
		return nil, err
	}
	if len(q.Options) == 0 {
		return nil, arena.Invalid("question has no options")
	}
	correct := q.CorrectOptionIDs()

	var out []arena.Answer
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		answers, err := tx.Answers(ctx, questionID)
		if err != nil {
			return err
		}
		out = out[:0]
		for _, a := range answers {
			if a.ValidationStatus != arena.ValidationPending {
				continue
			}
			status := arena.ValidationIncorrect
			if sameOptions(a.Payload.SelectedOptions, correct) {
				status = arena.ValidationCorrect
			}
			v, err := e.applyVerdict(ctx, tx, box, q, a, status, nil)
			if err != nil {
				return err
			}
			out = append(out, v)
		}
		return nil
	})
	return out, err
}

// sameOptions compares two option id lists as sets.
func sameOptions(selected, correct []string) bool {
	want := make(map[string]bool, len(correct))
	for _, id := range correct {
		want[id] = true
	}
	got := make(map[string]bool, len(selected))
	for _, id := range selected {
		got[id] = true
	}
	if len(got) != len(want) {
		return false
	}
	for id := range got {
		if !want[id] {
			return false
		}
	}
	return true
}
