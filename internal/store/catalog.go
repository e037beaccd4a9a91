package store

import (
	"fmt"
	"strings"

	"github.com/playperu/quizarena/internal/arena"
)

// NormalizeShow checks an imported show and fills the fields questions
// inherit from their position: show and round ids, indexes and default base
// points.
func NormalizeShow(show arena.Show) (arena.Show, error) {
	if strings.TrimSpace(show.ID) == "" {
		return show, arena.Invalid("show id is required")
	}
	seen := make(map[string]bool)
	for ri := range show.Rounds {
		r := &show.Rounds[ri]
		if r.ID == "" {
			return show, arena.Invalid(fmt.Sprintf("round %d has no id", ri))
		}
		for qi := range r.Questions {
			q := &r.Questions[qi]
			if q.ID == "" {
				return show, arena.Invalid(fmt.Sprintf("question %d of round %s has no id", qi, r.ID))
			}
			if seen[q.ID] {
				return show, arena.Invalid(fmt.Sprintf("question id %s is used twice", q.ID))
			}
			seen[q.ID] = true

			q.ShowID = show.ID
			q.RoundID = r.ID
			q.RoundIndex = ri
			q.QuestionIndex = qi
			if q.BasePoints <= 0 {
				q.BasePoints = arena.DefaultBasePoints
			}
			if q.Type == "" {
				q.Type = arena.QuestionText
			}
		}
	}
	return show, nil
}

func showQuestions(show arena.Show) []arena.Question {
	var qs []arena.Question
	for _, r := range show.Rounds {
		qs = append(qs, r.Questions...)
	}
	return qs
}
