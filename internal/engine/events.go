package engine

import (
	"context"
	"time"

	"github.com/playperu/quizarena/internal/arena"
)

type EventType string

const (
	EventQuestionStarted      EventType = "question.started"
	EventQuestionStopped      EventType = "question.stopped"
	EventBuzzPressed          EventType = "buzz.pressed"
	EventBuzzerLocked         EventType = "buzzer.locked"
	EventBuzzerUnlocked       EventType = "buzzer.unlocked"
	EventAnswerReceived       EventType = "answer.received"
	EventAnswerValidated      EventType = "answer.validated"
	EventScoreUpdated         EventType = "score.updated"
	EventTeamJoined           EventType = "team.joined"
	EventPlayerDisconnected   EventType = "player.disconnected"
	EventSessionStatusChanged EventType = "session.status_changed"
)

// Event is one outbound notification about a session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"sessionId"`
	Payload   any       `json:"payload"`
}

// Broadcaster delivers events to connected clients. Publish must not block
// on slow consumers: it is called while the session lock is held.
type Broadcaster interface {
	Publish(ctx context.Context, ev Event)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(context.Context, Event) {}

type QuestionStarted struct {
	RoundID    string    `json:"roundId"`
	QuestionID string    `json:"questionId"`
	Ts         time.Time `json:"ts"`
}

type QuestionStopped struct {
	QuestionID string    `json:"questionId"`
	Ts         time.Time `json:"ts"`
}

type BuzzPressed struct {
	TeamID     string `json:"teamId"`
	QuestionID string `json:"questionId"`
	IsFirst    bool   `json:"isFirst"`
	Seq        int    `json:"seq"`
}

// BuzzerLocked carries the winning team, or no team when an operator locked
// the buzzer by hand.
type BuzzerLocked struct {
	TeamID     string `json:"teamId,omitempty"`
	QuestionID string `json:"questionId,omitempty"`
}

type BuzzerUnlocked struct {
	QuestionID string `json:"questionId,omitempty"`
}

type AnswerReceived struct {
	TeamID     string `json:"teamId"`
	QuestionID string `json:"questionId"`
	AnswerID   string `json:"answerId"`
}

type AnswerValidated struct {
	AnswerID      string                   `json:"answerId"`
	TeamID        string                   `json:"teamId"`
	Status        arena.ValidationStatus   `json:"status"`
	PointsAwarded int                      `json:"pointsAwarded"`
	Leaderboard   []arena.LeaderboardEntry `json:"leaderboard"`
}

// ScoreUpdated reports Points as the change applied to the team score.
type ScoreUpdated struct {
	TeamID      string                   `json:"teamId"`
	Points      int                      `json:"points"`
	Score       int                      `json:"score"`
	Leaderboard []arena.LeaderboardEntry `json:"leaderboard"`
}

type TeamJoined struct {
	TeamID string `json:"teamId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Emoji  string `json:"emoji"`
}

type PlayerDisconnected struct {
	TeamID   string `json:"teamId"`
	PlayerID string `json:"playerId,omitempty"`
}

type SessionStatusChanged struct {
	Status arena.SessionStatus `json:"status"`
}

// outbox collects the events of one mutation. They are published only once
// the mutation commits.
type outbox struct {
	sessionID string
	events    []Event
}

func (o *outbox) emit(t EventType, payload any) {
	o.events = append(o.events, Event{Type: t, SessionID: o.sessionID, Payload: payload})
}
