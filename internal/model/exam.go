package model

import (
	"time"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam holds the attempt-relevant settings of an exam.
type Exam struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	DurationMinutes    int        `json:"duration_minutes"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	MaxViolations      int        `json:"max_violations"`
	FullscreenRequired bool       `json:"fullscreen_required"`
	ShowResults        bool       `json:"show_results"`
	Status             ExamStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
}

// ExamPayload is the Redis-cached, student-facing exam (no grading key).
type ExamPayload struct {
	ExamID             string     `json:"exam_id"`
	Title              string     `json:"title"`
	DurationMinutes    int        `json:"duration_minutes"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	MaxViolations      int        `json:"max_violations"`
	FullscreenRequired bool       `json:"fullscreen_required"`
	ShowResults        bool       `json:"show_results"`
	Questions          []Question `json:"questions"`
}

// ResultStatus is the scoring service's verdict for an attempt.
type ResultStatus string

const (
	ResultStatusEvaluating ResultStatus = "EVALUATING"
	ResultStatusReady      ResultStatus = "READY"
	ResultStatusWithheld   ResultStatus = "WITHHELD"
)

// Result is the scored outcome of an attempt.
type Result struct {
	TotalScore  float64   `json:"total_score"`
	MaxScore    float64   `json:"max_score"`
	Percentage  float64   `json:"percentage"`
	Rank        *int      `json:"rank,omitempty"`
	Percentile  *float64  `json:"percentile,omitempty"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// ResultResponse is the results endpoint body.
type ResultResponse struct {
	Status ResultStatus `json:"status"`
	Result *Result      `json:"result,omitempty"`
}
