package scoring

import (
	"testing"

	"github.com/stemsi/exstem-engine/internal/model"
)

func strPtr(s string) *string { return &s }

func answerKey() []model.QuestionRecord {
	return []model.QuestionRecord{
		{ID: "q1", Type: model.QuestionTypeMCQ, Marks: 4, NegativeMarks: 1,
			Options: []model.OptionKey{{ID: "a", IsCorrect: true}, {ID: "b"}}},
		{ID: "q2", Type: model.QuestionTypeTrueFalse, Marks: 1,
			Options: []model.OptionKey{{ID: "t"}, {ID: "f", IsCorrect: true}}},
		{ID: "q3", Type: model.QuestionTypeFillBlank, Marks: 2, NegativeMarks: 0.5,
			AcceptedAnswers: []string{"Acceleration", "accel"}},
		{ID: "q4", Type: model.QuestionTypeNumerical, Marks: 3, NegativeMarks: 1,
			AcceptedAnswers: []string{"9.81"}, NumericTolerance: 0.01},
	}
}

func TestGradeAnswer(t *testing.T) {
	key := answerKey()

	tests := []struct {
		name    string
		q       int
		answer  model.AnswerSync
		outcome Outcome
		awarded float64
	}{
		{"MCQCorrect", 0, model.AnswerSync{SelectedOptionID: strPtr("a")}, OutcomeCorrect, 4},
		{"MCQWrongIsPenalised", 0, model.AnswerSync{SelectedOptionID: strPtr("b")}, OutcomeIncorrect, -1},
		{"MCQUnknownOption", 0, model.AnswerSync{SelectedOptionID: strPtr("zz")}, OutcomeIncorrect, -1},
		{"MCQCleared", 0, model.AnswerSync{SelectedOptionID: strPtr("")}, OutcomeUnanswered, 0},
		{"TrueFalseCorrect", 1, model.AnswerSync{SelectedOptionID: strPtr("f")}, OutcomeCorrect, 1},
		{"FillBlankIgnoresCaseAndSpacing", 2, model.AnswerSync{TextAnswer: strPtr("  ACCELERATION ")}, OutcomeCorrect, 2},
		{"FillBlankAlternative", 2, model.AnswerSync{TextAnswer: strPtr("Accel")}, OutcomeCorrect, 2},
		{"FillBlankWrong", 2, model.AnswerSync{TextAnswer: strPtr("velocity")}, OutcomeIncorrect, -0.5},
		{"NumericalWithinTolerance", 3, model.AnswerSync{TextAnswer: strPtr("9,8")}, OutcomeCorrect, 3},
		{"NumericalOutsideTolerance", 3, model.AnswerSync{TextAnswer: strPtr("9.7")}, OutcomeIncorrect, -1},
		{"NumericalGarbage", 3, model.AnswerSync{TextAnswer: strPtr("ten")}, OutcomeIncorrect, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := GradeAnswer(&key[tt.q], &tt.answer)
			if g.Outcome != tt.outcome || g.Awarded != tt.awarded {
				t.Fatalf("expected %s/%v, got %s/%v", tt.outcome, tt.awarded, g.Outcome, g.Awarded)
			}
		})
	}
}

func TestGrade(t *testing.T) {
	answers := map[string]model.AnswerSync{
		"q1":    {QuestionID: "q1", SelectedOptionID: strPtr("a")},
		"q3":    {QuestionID: "q3", TextAnswer: strPtr("speed")},
		"q4":    {QuestionID: "q4", TextAnswer: strPtr("9.81")},
		"stray": {QuestionID: "stray", TextAnswer: strPtr("x")},
	}

	s := Grade(answerKey(), answers)
	if s.MaxScore != 10 {
		t.Fatalf("expected max 10, got %v", s.MaxScore)
	}
	if s.TotalScore != 6.5 {
		t.Fatalf("expected 6.5, got %v", s.TotalScore)
	}
	if s.Percentage != 65 {
		t.Fatalf("expected 65%%, got %v", s.Percentage)
	}
	if s.Correct != 2 || s.Incorrect != 1 || s.Unanswered != 1 {
		t.Fatalf("unexpected tallies %d/%d/%d", s.Correct, s.Incorrect, s.Unanswered)
	}
	if len(s.Items) != 4 {
		t.Fatalf("stray answers must be ignored, got %d items", len(s.Items))
	}
}

func TestGradeNegativeTotal(t *testing.T) {
	key := answerKey()[:1]
	s := Grade(key, map[string]model.AnswerSync{
		"q1": {SelectedOptionID: strPtr("b")},
	})
	if s.TotalScore != -1 || s.Percentage != -25 {
		t.Fatalf("expected -1 / -25%%, got %v / %v", s.TotalScore, s.Percentage)
	}
}

func TestGradeEmptyKey(t *testing.T) {
	s := Grade(nil, nil)
	if s.MaxScore != 0 || s.Percentage != 0 {
		t.Fatalf("expected zero summary, got %+v", s)
	}
}
