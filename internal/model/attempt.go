package model

import (
	"time"
	"unicode/utf8"
)

// AttemptStatus enumerates attempt lifecycle states. Submitting only exists
// client-side; the store persists NOT_STARTED, ACTIVE and SUBMITTED.
type AttemptStatus string

const (
	AttemptStatusNotStarted AttemptStatus = "NOT_STARTED"
	AttemptStatusActive     AttemptStatus = "ACTIVE"
	AttemptStatusSubmitting AttemptStatus = "SUBMITTING"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
)

// rank orders statuses so forward-only transitions can be checked.
func (s AttemptStatus) rank() int {
	switch s {
	case AttemptStatusNotStarted:
		return 0
	case AttemptStatusActive:
		return 1
	case AttemptStatusSubmitting:
		return 2
	case AttemptStatusSubmitted:
		return 3
	}
	return -1
}

// Before reports whether s comes strictly before other in the lifecycle.
func (s AttemptStatus) Before(other AttemptStatus) bool {
	return s.rank() < other.rank()
}

// ViolationReason names an integrity breach.
type ViolationReason string

const (
	ViolationFullscreenExit ViolationReason = "fullscreen-exit"
	ViolationTabHidden      ViolationReason = "tab-hidden"
	ViolationWindowBlur     ViolationReason = "window-blur"
)

// Attempt is the persisted attempt row.
type Attempt struct {
	ID             string        `json:"id"`
	ExamID         string        `json:"exam_id"`
	StudentRef     string        `json:"student_ref"`
	Status         AttemptStatus `json:"status"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	SubmittedAt    *time.Time    `json:"submitted_at,omitempty"`
	ViolationCount int           `json:"violation_count"`
	QuestionOrder  []string      `json:"question_order,omitempty"`
}

// AnswerRecord is the engine's local state for one answered question.
type AnswerRecord struct {
	QuestionID        string `json:"question_id"`
	Value             string `json:"value"`
	TimeSpentSeconds  int    `json:"time_spent_seconds"`
	IsMarkedForReview bool   `json:"is_marked_for_review"`
}

// MaxTextAnswerLen bounds text answers in runes. It must match the max tag on
// SaveAnswerRequest.TextAnswer.
const MaxTextAnswerLen = 2000

// TextAnswerTooLong reports whether s exceeds MaxTextAnswerLen.
func TextAnswerTooLong(s string) bool {
	return utf8.RuneCountInString(s) > MaxTextAnswerLen
}

// AnswerSync is the wire shape of one answer write. Exactly one of
// SelectedOptionID and TextAnswer is set.
type AnswerSync struct {
	QuestionID        string  `json:"question_id"`
	SelectedOptionID  *string `json:"selected_option_id,omitempty"`
	TextAnswer        *string `json:"text_answer,omitempty"`
	TimeSpentSeconds  int     `json:"time_spent_seconds"`
	IsMarkedForReview bool    `json:"is_marked_for_review"`
}

// Value returns whichever answer field is populated.
func (a *AnswerSync) Value() string {
	switch {
	case a.SelectedOptionID != nil:
		return *a.SelectedOptionID
	case a.TextAnswer != nil:
		return *a.TextAnswer
	}
	return ""
}

// LoadedAttempt is everything the engine needs to run an attempt.
type LoadedAttempt struct {
	AttemptID          string       `json:"attempt_id"`
	ExamID             string       `json:"exam_id"`
	Title              string       `json:"title"`
	StartedAt          *time.Time   `json:"started_at,omitempty"`
	SubmittedAt        *time.Time   `json:"submitted_at,omitempty"`
	DurationMinutes    int          `json:"duration_minutes"`
	MaxViolations      int          `json:"max_violations"`
	FullscreenRequired bool         `json:"fullscreen_required"`
	ViolationCount     int          `json:"violation_count"`
	Questions          []Question   `json:"questions"`
	Answers            []AnswerSync `json:"answers,omitempty"`
}

// SaveAnswerRequest is the payload of an answer write.
type SaveAnswerRequest struct {
	SelectedOptionID  *string `json:"selected_option_id" binding:"omitempty,max=64"`
	TextAnswer        *string `json:"text_answer" binding:"omitempty,max=2000"`
	TimeSpentSeconds  int     `json:"time_spent_seconds" binding:"min=0"`
	IsMarkedForReview bool    `json:"is_marked_for_review"`
}

// ViolationRequest reports an integrity breach.
type ViolationRequest struct {
	Reason ViolationReason `json:"reason" binding:"required,oneof=fullscreen-exit tab-hidden window-blur"`
	Count  int             `json:"count" binding:"min=0"`
}

// StartResponse acknowledges activation.
type StartResponse struct {
	StartedAt time.Time `json:"started_at"`
}

// SubmitResponse acknowledges submission. AlreadySubmitted marks an idempotent repeat.
type SubmitResponse struct {
	SubmittedAt      time.Time `json:"submitted_at"`
	AlreadySubmitted bool      `json:"already_submitted"`
}
