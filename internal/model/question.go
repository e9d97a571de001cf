package model

import (
	"strconv"
	"strings"
)

// QuestionType is the tag that decides how an answer value is shaped and graded.
type QuestionType string

const (
	QuestionTypeMCQ       QuestionType = "MCQ"
	QuestionTypeTrueFalse QuestionType = "TRUE_FALSE"
	QuestionTypeFillBlank QuestionType = "FILL_BLANK"
	QuestionTypeNumerical QuestionType = "NUMERICAL"
)

// Valid reports whether t is one of the supported question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeMCQ, QuestionTypeTrueFalse, QuestionTypeFillBlank, QuestionTypeNumerical:
		return true
	}
	return false
}

// SelectsOption reports whether answers to this type are an option id rather than free text.
func (t QuestionType) SelectsOption() bool {
	return t == QuestionTypeMCQ || t == QuestionTypeTrueFalse
}

// Option is a student-facing choice. Correctness is never part of it.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the immutable, student-facing question payload of an attempt.
type Question struct {
	ID            string       `json:"id"`
	SectionID     string       `json:"section_id,omitempty"`
	Text          string       `json:"question_text"`
	Type          QuestionType `json:"question_type"`
	Options       []Option     `json:"options,omitempty"`
	Marks         float64      `json:"marks"`
	NegativeMarks float64      `json:"negative_marks"`
}

// HasOption reports whether optionID belongs to the question.
func (q *Question) HasOption(optionID string) bool {
	for _, o := range q.Options {
		if o.ID == optionID {
			return true
		}
	}
	return false
}

// OptionKey is an option as stored server-side, correctness included.
type OptionKey struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// QuestionRecord is a question row together with its grading key.
type QuestionRecord struct {
	ID               string       `json:"id"`
	ExamID           string       `json:"exam_id"`
	SectionID        string       `json:"section_id,omitempty"`
	Text             string       `json:"question_text"`
	Type             QuestionType `json:"question_type"`
	Options          []OptionKey  `json:"options"`
	AcceptedAnswers  []string     `json:"accepted_answers,omitempty"`
	NumericTolerance float64      `json:"numeric_tolerance"`
	Marks            float64      `json:"marks"`
	NegativeMarks    float64      `json:"negative_marks"`
	OrderNum         int          `json:"order_num"`
}

// ForStudent strips the grading key.
func (r *QuestionRecord) ForStudent() Question {
	opts := make([]Option, len(r.Options))
	for i, o := range r.Options {
		opts[i] = Option{ID: o.ID, Text: o.Text}
	}
	return Question{
		ID:            r.ID,
		SectionID:     r.SectionID,
		Text:          r.Text,
		Type:          r.Type,
		Options:       opts,
		Marks:         r.Marks,
		NegativeMarks: r.NegativeMarks,
	}
}

// NormalizeText folds a free-text answer for comparison.
func NormalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ParseNumeric parses a numerical answer, accepting a decimal comma.
func ParseNumeric(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
}
