package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/playperu/quizarena/internal/arena"
)

const (
	pinAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	pinLength   = 6
)

type CreateParams struct {
	ShowID   string `json:"showId"`
	HostID   string `json:"hostId,omitempty"`
	MaxTeams int    `json:"maxTeams,omitempty"`
}

// Create opens a new session in the lobby with a fresh pin code.
func (e *Engine) Create(ctx context.Context, p CreateParams) (_ arena.Session, err error) {
	ctx, span := e.startSpan(ctx, "Create", attribute.String("show.id", p.ShowID))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(p.ShowID) == "" {
		return arena.Session{}, arena.Invalid("showId is required")
	}
	if p.MaxTeams < 0 {
		return arena.Session{}, arena.Invalid("maxTeams must not be negative")
	}

	maxTeams := p.MaxTeams
	if maxTeams == 0 {
		maxTeams = e.defaultMaxTeams
	}
	var maxPlayers int
	if p.HostID != "" {
		// The daily allowance is counted and consumed under one host lock.
		unlock := e.lock("host:" + p.HostID)
		defer unlock()

		if err := e.gate.AssertCreationAllowed(ctx, p.HostID); err != nil {
			return arena.Session{}, err
		}
		limits, err := e.gate.CapacityLimits(ctx, p.HostID)
		if err != nil {
			return arena.Session{}, fmt.Errorf("reading capacity limits: %w", err)
		}
		if limits.MaxTeams > 0 && maxTeams > limits.MaxTeams {
			maxTeams = limits.MaxTeams
		}
		maxPlayers = limits.MaxPlayers
	}

	s := arena.Session{
		ID:         newID(),
		ShowID:     p.ShowID,
		HostID:     p.HostID,
		Status:     arena.StatusLobby,
		MaxTeams:   maxTeams,
		MaxPlayers: maxPlayers,
		Flags:      arena.SessionFlags{FinalistTeamIDs: []string{}},
		CreatedAt:  e.now().UTC(),
	}

	for range e.pinAttempts {
		pin := e.drawPin()
		taken, err := e.store.PinActive(ctx, pin)
		if err != nil {
			return arena.Session{}, fmt.Errorf("checking pin: %w", err)
		}
		if taken {
			e.logger.Debug("pin collision", "pin", pin)
			continue
		}

		s.PinCode = pin
		err = e.store.CreateSession(ctx, s)
		if errors.Is(err, ErrPinTaken) {
			e.logger.Debug("pin collision on insert", "pin", pin)
			continue
		}
		if err != nil {
			return arena.Session{}, fmt.Errorf("creating session: %w", err)
		}

		e.logger.Info("session created", "session_id", s.ID, "pin", s.PinCode, "max_teams", s.MaxTeams)
		return s, nil
	}
	return arena.Session{}, arena.New(arena.CodePinExhausted, "could not allocate a unique pin code")
}

func (e *Engine) drawPin() string {
	var b strings.Builder
	b.Grow(pinLength)
	for range pinLength {
		b.WriteByte(pinAlphabet[e.rand.IntN(len(pinAlphabet))])
	}
	return b.String()
}

func (e *Engine) Start(ctx context.Context, sessionID string) (arena.Session, error) {
	return e.transition(ctx, sessionID, "Start", func(s *arena.Session, now time.Time) (bool, error) {
		switch s.Status {
		case arena.StatusRunning:
			return false, nil
		case arena.StatusLobby, arena.StatusPaused:
			if s.StartedAt == nil {
				s.StartedAt = &now
			}
			s.Status = arena.StatusRunning
			return true, nil
		}
		return false, arena.ErrInvalidTransition
	})
}

func (e *Engine) Pause(ctx context.Context, sessionID string) (arena.Session, error) {
	return e.transition(ctx, sessionID, "Pause", func(s *arena.Session, _ time.Time) (bool, error) {
		if s.Status != arena.StatusRunning {
			return false, arena.ErrInvalidTransition
		}
		s.Status = arena.StatusPaused
		return true, nil
	})
}

// Finish ends the session and releases its pin code.
func (e *Engine) Finish(ctx context.Context, sessionID string) (arena.Session, error) {
	return e.transition(ctx, sessionID, "Finish", func(s *arena.Session, now time.Time) (bool, error) {
		if s.Status == arena.StatusFinished {
			return false, arena.ErrInvalidTransition
		}
		s.Status = arena.StatusFinished
		s.FinishedAt = &now
		return true, nil
	})
}

func (e *Engine) transition(ctx context.Context, sessionID, op string, apply func(*arena.Session, time.Time) (bool, error)) (_ arena.Session, err error) {
	ctx, span := e.startSpan(ctx, op, attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	var out arena.Session
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		from := s.Status
		changed, err := apply(&s, e.now().UTC())
		if err != nil {
			e.logger.Debug("transition rejected", "session_id", sessionID, "op", op, "status", from)
			return err
		}
		out = s
		if !changed {
			return nil
		}
		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		box.emit(EventSessionStatusChanged, SessionStatusChanged{Status: s.Status})
		e.logger.Info("session status changed", "session_id", sessionID, "from", from, "to", s.Status)
		return nil
	})
	return out, err
}

// SetCurrentQuestion points a running session at a new question, unlocks the
// buzzer and discards every buzz attempt of the session.
func (e *Engine) SetCurrentQuestion(ctx context.Context, sessionID, roundID, questionID string) (_ arena.Session, err error) {
	ctx, span := e.startSpan(ctx, "SetCurrentQuestion",
		attribute.String("session.id", sessionID),
		attribute.String("question.id", questionID),
	)
	defer func() { endSpan(span, err) }()

	q, err := e.question(ctx, questionID)
	if err != nil {
		return arena.Session{}, err
	}
	if roundID == "" {
		roundID = q.RoundID
	}
	if roundID != q.RoundID {
		return arena.Session{}, arena.Invalid("question is not part of the round")
	}

	var out arena.Session
	err = e.mutate(ctx, sessionID, func(tx SessionTx, box *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if s.Status != arena.StatusRunning {
			return arena.ErrInvalidTransition
		}
		if q.ShowID != "" && q.ShowID != s.ShowID {
			return arena.Invalid("question does not belong to the session's show")
		}

		now := e.now().UTC()
		s.CurrentRoundID = roundID
		s.CurrentQuestionID = questionID
		s.QuestionStartedAt = &now
		s.Flags.BuzzerLocked = false
		s.Flags.CurrentRoundIndex = q.RoundIndex
		s.Flags.CurrentQuestionIndex = q.QuestionIndex

		if err := tx.ClearAttempts(ctx); err != nil {
			return err
		}
		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		out = s
		box.emit(EventQuestionStarted, QuestionStarted{RoundID: roundID, QuestionID: questionID, Ts: now})
		e.logger.Info("question started", "session_id", sessionID, "round_id", roundID, "question_id", questionID)
		return nil
	})
	return out, err
}

// StopQuestion closes the current question to buzzing.
func (e *Engine) StopQuestion(ctx context.Context, sessionID string) (_ arena.Session, err error) {
	ctx, span := e.startSpan(ctx, "StopQuestion", attribute.String("session.id", sessionID))
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
		if s.CurrentQuestionID == "" {
			return arena.ErrQuestionInactive
		}
		s.Flags.BuzzerLocked = true
		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		out = s
		box.emit(EventQuestionStopped, QuestionStopped{QuestionID: s.CurrentQuestionID, Ts: e.now().UTC()})
		e.logger.Info("question stopped", "session_id", sessionID, "question_id", s.CurrentQuestionID)
		return nil
	})
	return out, err
}

// SetFinalists records the teams playing the final.
func (e *Engine) SetFinalists(ctx context.Context, sessionID string, teamIDs []string) (_ arena.Session, err error) {
	ctx, span := e.startSpan(ctx, "SetFinalists", attribute.String("session.id", sessionID))
	defer func() { endSpan(span, err) }()

	ids := make([]string, 0, len(teamIDs))
	for _, id := range teamIDs {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}

	var out arena.Session
	err = e.mutate(ctx, sessionID, func(tx SessionTx, _ *outbox) error {
		s, err := tx.Session(ctx)
		if err != nil {
			return err
		}
		if s.Status == arena.StatusFinished {
			return arena.ErrSessionFinished
		}
		for _, id := range ids {
			if _, err := tx.Team(ctx, id); errors.Is(err, arena.ErrNotFound) {
				return arena.Invalid(fmt.Sprintf("team %s is not part of the session", id))
			} else if err != nil {
				return err
			}
		}
		s.Flags.FinalistTeamIDs = ids
		if err := tx.PutSession(ctx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

func (e *Engine) Session(ctx context.Context, sessionID string) (arena.Session, error) {
	var s arena.Session
	err := e.view(ctx, sessionID, func(r SessionReader) error {
		var err error
		s, err = r.Session(ctx)
		return err
	})
	return s, err
}

// SessionByPin finds the active session holding pin.
func (e *Engine) SessionByPin(ctx context.Context, pin string) (arena.Session, error) {
	s, err := e.store.SessionByPin(ctx, strings.ToUpper(strings.TrimSpace(pin)))
	return s, storeErr(err)
}
