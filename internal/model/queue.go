package model

import (
	"time"
)

// AnswerJob is queued for the autosave worker.
type AnswerJob struct {
	AttemptID string     `json:"attempt_id"`
	Answer    AnswerSync `json:"answer"`
	SavedAt   time.Time  `json:"saved_at"`
}

// ViolationJob is queued for the violation worker.
type ViolationJob struct {
	AttemptID  string          `json:"attempt_id"`
	Reason     ViolationReason `json:"reason"`
	RecordedAt time.Time       `json:"recorded_at"`
}

// ScoreJob is queued for the scoring worker once an attempt is submitted.
type ScoreJob struct {
	AttemptID string `json:"attempt_id"`
	ExamID    string `json:"exam_id"`
}

// QuestionOrderJob persists an attempt's frozen question order.
type QuestionOrderJob struct {
	AttemptID string   `json:"attempt_id"`
	Order     []string `json:"order"`
}

// AttemptMeta is the cached hot-path view of an attempt row.
type AttemptMeta struct {
	ExamID      string     `json:"exam_id"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// MonitorEvent is published on an exam's monitor channel.
type MonitorEvent struct {
	Type      string    `json:"type"`
	AttemptID string    `json:"attempt_id"`
	Reason    string    `json:"reason,omitempty"`
	Count     int       `json:"count,omitempty"`
	At        time.Time `json:"at"`
}

const (
	MonitorEventStarted   = "started"
	MonitorEventViolation = "violation"
	MonitorEventSubmitted = "submitted"
	MonitorEventScored    = "scored"
)
