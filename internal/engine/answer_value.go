package engine

import (
	"strings"

	"github.com/stemsi/exstem-engine/internal/model"
)

// AnswerValue is an answer tagged with its question type. The tag alone
// decides which wire field it occupies.
type AnswerValue struct {
	kind     model.QuestionType
	optionID string
	text     string
}

// ShapeAnswer validates raw against the question and builds the tagged value.
// An empty raw value clears the answer.
func ShapeAnswer(q *model.Question, raw string) (AnswerValue, error) {
	switch q.Type {
	case model.QuestionTypeMCQ, model.QuestionTypeTrueFalse:
		if raw != "" && !q.HasOption(raw) {
			return AnswerValue{}, ErrInvalidAnswer
		}
		return AnswerValue{kind: q.Type, optionID: raw}, nil
	case model.QuestionTypeFillBlank:
		if model.TextAnswerTooLong(raw) {
			return AnswerValue{}, ErrInvalidAnswer
		}
		return AnswerValue{kind: q.Type, text: raw}, nil
	case model.QuestionTypeNumerical:
		raw = strings.TrimSpace(raw)
		if raw != "" {
			if _, err := model.ParseNumeric(raw); err != nil {
				return AnswerValue{}, ErrInvalidAnswer
			}
		}
		return AnswerValue{kind: q.Type, text: raw}, nil
	}
	return AnswerValue{}, ErrInvalidAnswer
}

// Kind returns the question type tag.
func (v AnswerValue) Kind() model.QuestionType { return v.kind }

// Raw returns the value as the user entered it.
func (v AnswerValue) Raw() string {
	if v.kind.SelectsOption() {
		return v.optionID
	}
	return v.text
}

// Sync builds the wire payload for this value.
func (v AnswerValue) Sync(questionID string, timeSpent int, marked bool) model.AnswerSync {
	p := model.AnswerSync{
		QuestionID:        questionID,
		TimeSpentSeconds:  timeSpent,
		IsMarkedForReview: marked,
	}
	if v.kind.SelectsOption() {
		id := v.optionID
		p.SelectedOptionID = &id
	} else {
		text := v.text
		p.TextAnswer = &text
	}
	return p
}
