package engine

import (
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// View is the presentation model of an attempt. Each View is computed fresh
// and shares no memory with the engine.
type View struct {
	AttemptID string
	ExamID    string
	Title     string
	Status    model.AttemptStatus

	// Remaining is only meaningful when HasDeadline is set. ClockRunning is
	// true while Active.
	Remaining    time.Duration
	HasDeadline  bool
	ClockRunning bool

	CurrentIndex    int
	QuestionCount   int
	CurrentQuestion model.Question
	CurrentAnswer   *model.AnswerRecord
	Answered        []bool
	MarkedForReview []bool
	AnsweredCount   int

	ViolationCount     int
	MaxViolations      int
	FullscreenRequired bool
	MonitoringArmed    bool

	PendingSyncs     int
	ConfirmingSubmit bool
	SubmitTrigger    SubmitTrigger
	SubmittedAt      *time.Time

	ResultState ResultState
	Result      *model.Result
}

// RemainingMs returns the remaining time in whole milliseconds.
func (v View) RemainingMs() int64 { return v.Remaining.Milliseconds() }

func (e *Engine) view(now time.Time) View {
	v := View{
		AttemptID:          e.attemptID,
		ExamID:             e.examID,
		Title:              e.title,
		Status:             e.status,
		ClockRunning:       e.status == model.AttemptStatusActive,
		CurrentIndex:       e.nav.Index(),
		QuestionCount:      len(e.questions),
		Answered:           make([]bool, len(e.questions)),
		MarkedForReview:    make([]bool, len(e.questions)),
		ViolationCount:     e.monitor.Violations(),
		MaxViolations:      e.monitor.Max(),
		FullscreenRequired: e.monitor.FullscreenRequired(),
		MonitoringArmed:    e.monitor.Armed(),
		PendingSyncs:       e.sync.Pending(),
		ConfirmingSubmit:   e.confirming,
		SubmitTrigger:      e.trigger,
		ResultState:        e.result,
	}

	switch e.status {
	case model.AttemptStatusActive, model.AttemptStatusSubmitting:
		v.Remaining, v.HasDeadline = e.deadline.Remaining(now)
	case model.AttemptStatusSubmitted:
		v.HasDeadline = e.deadline.IsSet()
		if e.submittedAt != nil && v.HasDeadline {
			v.Remaining, _ = e.deadline.Remaining(*e.submittedAt)
		}
	}

	q := e.questions[v.CurrentIndex]
	q.Options = append([]model.Option(nil), q.Options...)
	v.CurrentQuestion = q
	if rec, ok := e.cache.Get(q.ID); ok {
		v.CurrentAnswer = &rec
	}

	for i, q := range e.questions {
		if e.cache.Answered(q.ID) {
			v.Answered[i] = true
			v.AnsweredCount++
		}
		v.MarkedForReview[i] = e.cache.Marked(q.ID)
	}

	if e.submittedAt != nil {
		at := *e.submittedAt
		v.SubmittedAt = &at
	}
	if e.resultData != nil {
		r := *e.resultData
		v.Result = &r
	}
	return v
}
