// Package arena defines the core domain types of a live quiz session.
// It has no external dependencies.
package arena

import "time"

type SessionStatus string

const (
	StatusLobby    SessionStatus = "lobby"
	StatusRunning  SessionStatus = "running"
	StatusPaused   SessionStatus = "paused"
	StatusFinished SessionStatus = "finished"
)

// Active reports whether a session still holds its pin code.
func (s SessionStatus) Active() bool { return s != StatusFinished }

type Session struct {
	ID                string        `json:"id"`
	ShowID            string        `json:"showId"`
	HostID            string        `json:"hostId,omitempty"`
	PinCode           string        `json:"pinCode"`
	Status            SessionStatus `json:"status"`
	CurrentRoundID    string        `json:"currentRoundId,omitempty"`
	CurrentQuestionID string        `json:"currentQuestionId,omitempty"`
	QuestionStartedAt *time.Time    `json:"questionStartedAt,omitempty"`
	MaxTeams          int           `json:"maxTeams"`
	MaxPlayers        int           `json:"maxPlayers"`
	Flags             SessionFlags  `json:"flags"`
	CreatedAt         time.Time     `json:"createdAt"`
	StartedAt         *time.Time    `json:"startedAt,omitempty"`
	FinishedAt        *time.Time    `json:"finishedAt,omitempty"`
}

type SessionFlags struct {
	BuzzerLocked         bool     `json:"isBuzzerLocked"`
	CurrentRoundIndex    int      `json:"currentRoundIndex"`
	CurrentQuestionIndex int      `json:"currentQuestionIndex"`
	FinalistTeamIDs      []string `json:"finalistTeamIds"`
}

type Team struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	Color     string    `json:"color"`
	Emoji     string    `json:"emoji"`
	Score     int       `json:"score"`
	IsActive  bool      `json:"isActive"`
	JoinOrder int       `json:"joinOrder"`
	CreatedAt time.Time `json:"createdAt"`
}

type Player struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	TeamID      string    `json:"teamId"`
	Nickname    string    `json:"nickname"`
	DeviceID    string    `json:"deviceId,omitempty"`
	IsConnected bool      `json:"isConnected"`
	JoinedAt    time.Time `json:"joinedAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

// BuzzAttempt is one team's press of the buzzer for a question. Seq is the
// arrival order at the arbiter and starts at 1 for every question.
type BuzzAttempt struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	QuestionID string    `json:"questionId"`
	TeamID     string    `json:"teamId"`
	Seq        int       `json:"seq"`
	IsFirst    bool      `json:"isFirst"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationCorrect   ValidationStatus = "correct"
	ValidationIncorrect ValidationStatus = "incorrect"
	ValidationPartial   ValidationStatus = "partial"
)

func (v ValidationStatus) Valid() bool {
	switch v {
	case ValidationPending, ValidationCorrect, ValidationIncorrect, ValidationPartial:
		return true
	}
	return false
}

// Payload holds exactly one of its variants.
type Payload struct {
	SelectedOptions []string `json:"selectedOptions,omitempty"`
	Text            *string  `json:"text,omitempty"`
	Numeric         *float64 `json:"numeric,omitempty"`
}

// Variants counts the populated variants of p.
func (p Payload) Variants() int {
	n := 0
	if len(p.SelectedOptions) > 0 {
		n++
	}
	if p.Text != nil {
		n++
	}
	if p.Numeric != nil {
		n++
	}
	return n
}

type Answer struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"sessionId"`
	TeamID           string           `json:"teamId"`
	QuestionID       string           `json:"questionId"`
	Payload          Payload          `json:"payload"`
	ValidationStatus ValidationStatus `json:"validationStatus"`
	PointsAwarded    int              `json:"pointsAwarded"`
	SubmittedAt      time.Time        `json:"submittedAt"`
	ValidatedAt      *time.Time       `json:"validatedAt,omitempty"`
	WasFirstToAnswer bool             `json:"wasFirstToAnswer"`
}

type QuestionType string

const (
	QuestionQCM       QuestionType = "qcm"
	QuestionQCMMulti  QuestionType = "qcm_multi"
	QuestionText      QuestionType = "text"
	QuestionNumeric   QuestionType = "numeric"
	QuestionBlindtest QuestionType = "blindtest_audio"
	QuestionSurvey    QuestionType = "survey"
)

// DefaultBasePoints applies when a question leaves BasePoints unset.
const DefaultBasePoints = 100

type Question struct {
	ID            string           `json:"id"`
	ShowID        string           `json:"showId"`
	RoundID       string           `json:"roundId"`
	RoundIndex    int              `json:"roundIndex"`
	QuestionIndex int              `json:"questionIndex"`
	Type          QuestionType     `json:"type"`
	Title         string           `json:"title"`
	BasePoints    int              `json:"basePoints"`
	Options       []Option         `json:"options,omitempty"`
	CorrectAnswer string           `json:"correctAnswer,omitempty"`
	Settings      QuestionSettings `json:"settings"`
}

type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

type QuestionSettings struct {
	Penalty      *int `json:"penalty,omitempty"`
	AutoValidate bool `json:"autoValidate,omitempty"`
}

// CorrectOptionIDs returns the ids of the options marked correct.
func (q Question) CorrectOptionIDs() []string {
	var ids []string
	for _, o := range q.Options {
		if o.IsCorrect {
			ids = append(ids, o.ID)
		}
	}
	return ids
}

// Show is the catalog unit imported by operators: ordered rounds of ordered questions.
type Show struct {
	ID     string  `json:"id"`
	Title  string  `json:"title"`
	Rounds []Round `json:"rounds"`
}

type Round struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Limits are the plan-derived capacities of a host. Zero means unlimited.
type Limits struct {
	MaxTeams    int `json:"maxTeams"`
	MaxPlayers  int `json:"maxPlayers"`
	GamesPerDay int `json:"gamesPerDay"`
}

// LeaderboardEntry is one ranked team.
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	TeamID string `json:"teamId"`
	Name   string `json:"name"`
	Color  string `json:"color"`
	Emoji  string `json:"emoji"`
	Score  int    `json:"score"`
}
