// Package scoring grades submitted attempts against the exam's answer key.
package scoring

import (
	"math"
	"strings"

	"github.com/stemsi/exstem-engine/internal/model"
)

type Outcome string

const (
	OutcomeCorrect    Outcome = "CORRECT"
	OutcomeIncorrect  Outcome = "INCORRECT"
	OutcomeUnanswered Outcome = "UNANSWERED"
)

// Graded is the verdict for a single question.
type Graded struct {
	QuestionID string
	Outcome    Outcome
	Awarded    float64
}

// Summary is the verdict for a whole attempt.
type Summary struct {
	TotalScore float64
	MaxScore   float64
	// Percentage is TotalScore/MaxScore*100 and goes negative when negative
	// marking outweighs correct answers.
	Percentage float64
	Correct    int
	Incorrect  int
	Unanswered int
	Items      []Graded
}

// Grade scores answers keyed by question id. Answers to questions outside
// the key are ignored.
func Grade(key []model.QuestionRecord, answers map[string]model.AnswerSync) Summary {
	s := Summary{Items: make([]Graded, 0, len(key))}
	for i := range key {
		q := &key[i]
		s.MaxScore += q.Marks

		a, ok := answers[q.ID]
		var g Graded
		if ok {
			g = GradeAnswer(q, &a)
		} else {
			g = Graded{QuestionID: q.ID, Outcome: OutcomeUnanswered}
		}

		switch g.Outcome {
		case OutcomeCorrect:
			s.Correct++
		case OutcomeIncorrect:
			s.Incorrect++
		default:
			s.Unanswered++
		}
		s.TotalScore += g.Awarded
		s.Items = append(s.Items, g)
	}

	s.TotalScore = round2(s.TotalScore)
	if s.MaxScore > 0 {
		s.Percentage = round2(s.TotalScore / s.MaxScore * 100)
	}
	return s
}

// GradeAnswer scores one answer. Empty answers are unanswered and never
// penalised.
func GradeAnswer(q *model.QuestionRecord, a *model.AnswerSync) Graded {
	g := Graded{QuestionID: q.ID, Outcome: OutcomeUnanswered}

	value := strings.TrimSpace(a.Value())
	if value == "" {
		return g
	}

	if isCorrect(q, value) {
		g.Outcome = OutcomeCorrect
		g.Awarded = q.Marks
	} else {
		g.Outcome = OutcomeIncorrect
		g.Awarded = -q.NegativeMarks
	}
	return g
}

func isCorrect(q *model.QuestionRecord, value string) bool {
	switch q.Type {
	case model.QuestionTypeMCQ, model.QuestionTypeTrueFalse:
		for _, o := range q.Options {
			if o.ID == value {
				return o.IsCorrect
			}
		}
		return false

	case model.QuestionTypeFillBlank:
		got := model.NormalizeText(value)
		for _, accepted := range q.AcceptedAnswers {
			if model.NormalizeText(accepted) == got {
				return true
			}
		}
		return false

	case model.QuestionTypeNumerical:
		got, err := model.ParseNumeric(value)
		if err != nil {
			return false
		}
		for _, accepted := range q.AcceptedAnswers {
			want, err := model.ParseNumeric(accepted)
			if err != nil {
				continue
			}
			if math.Abs(got-want) <= q.NumericTolerance+1e-9 {
				return true
			}
		}
		return false
	}
	return false
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
