package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
)

// formatRemaining renders mm:ss, or h:mm:ss for long exams.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d/time.Minute) % 60
	s := int(d/time.Second) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func prompt(v engine.View) string {
	if v.Status == model.AttemptStatusNotStarted {
		return "start? "
	}
	if v.Status != model.AttemptStatusActive {
		return fmt.Sprintf("[%s] > ", strings.ToLower(string(v.Status)))
	}
	left := "--:--"
	if v.HasDeadline {
		left = formatRemaining(v.Remaining)
	}
	return fmt.Sprintf("[%d/%d %s] > ", v.CurrentIndex+1, v.QuestionCount, left)
}

// renderQuestion draws the current question with its options and answer.
func renderQuestion(v engine.View) string {
	var b strings.Builder
	q := v.CurrentQuestion

	fmt.Fprintf(&b, "\n── Question %d of %d", v.CurrentIndex+1, v.QuestionCount)
	if q.SectionID != "" {
		fmt.Fprintf(&b, " · %s", q.SectionID)
	}
	fmt.Fprintf(&b, " · %g marks", q.Marks)
	if q.NegativeMarks > 0 {
		fmt.Fprintf(&b, ", -%g if wrong", q.NegativeMarks)
	}
	b.WriteString(" ──\n")
	b.WriteString(q.Text)
	b.WriteString("\n")

	answer := ""
	marked := false
	if v.CurrentAnswer != nil {
		answer = v.CurrentAnswer.Value
		marked = v.CurrentAnswer.IsMarkedForReview
	}

	if q.Type.SelectsOption() {
		for i, o := range q.Options {
			mark := " "
			if o.ID == answer {
				mark = "*"
			}
			fmt.Fprintf(&b, " %s %s) %s\n", mark, optionLabel(i), o.Text)
		}
	} else {
		hint := "text"
		if q.Type == model.QuestionTypeNumerical {
			hint = "number"
		}
		if answer == "" {
			fmt.Fprintf(&b, "  Answer (%s): -\n", hint)
		} else {
			fmt.Fprintf(&b, "  Answer (%s): %s\n", hint, answer)
		}
	}
	if marked {
		b.WriteString("  [marked for review]\n")
	}
	b.WriteString(renderStatus(v))
	return b.String()
}

// renderStatus is the one-line progress summary.
func renderStatus(v engine.View) string {
	var parts []string
	if v.HasDeadline {
		parts = append(parts, "time left "+formatRemaining(v.Remaining))
	}
	parts = append(parts,
		fmt.Sprintf("answered %d/%d", v.AnsweredCount, v.QuestionCount),
		fmt.Sprintf("violations %d/%d", v.ViolationCount, v.MaxViolations),
	)
	if n := countTrue(v.MarkedForReview); n > 0 {
		parts = append(parts, fmt.Sprintf("%d marked", n))
	}
	if v.PendingSyncs > 0 {
		parts = append(parts, fmt.Sprintf("%d saving", v.PendingSyncs))
	}
	return "  " + strings.Join(parts, " · ") + "\n"
}

// renderOverview lists every question with its state, shown before confirming.
func renderOverview(v engine.View) string {
	var b strings.Builder
	b.WriteString("\nOverview:\n")
	for i := 0; i < v.QuestionCount; i++ {
		state := "unanswered"
		if v.Answered[i] {
			state = "answered"
		}
		if v.MarkedForReview[i] {
			state += ", review"
		}
		fmt.Fprintf(&b, "  %2d  %s\n", i+1, state)
	}
	unanswered := v.QuestionCount - v.AnsweredCount
	fmt.Fprintf(&b, "%d unanswered. Type confirm to submit or cancel to keep working.\n", unanswered)
	return b.String()
}

// renderResult describes the submitted attempt and its score, if any.
func renderResult(v engine.View) string {
	var b strings.Builder
	b.WriteString("\nAttempt submitted")
	if v.SubmitTrigger.Forced() {
		switch v.SubmitTrigger {
		case engine.TriggerTimer:
			b.WriteString(" (time is up)")
		case engine.TriggerViolations:
			b.WriteString(" (violation limit reached)")
		}
	}
	if v.SubmittedAt != nil {
		fmt.Fprintf(&b, " at %s", v.SubmittedAt.Local().Format("15:04:05"))
	}
	b.WriteString(".\n")

	switch v.ResultState {
	case engine.ResultEvaluating:
		b.WriteString("Your answers are being evaluated...\n")
	case engine.ResultWithheld:
		b.WriteString("Results for this exam are not shown.\n")
	case engine.ResultReady:
		if v.Result == nil {
			break
		}
		r := v.Result
		fmt.Fprintf(&b, "Score: %g / %g (%.2f%%)\n", r.TotalScore, r.MaxScore, r.Percentage)
		if r.Rank != nil {
			fmt.Fprintf(&b, "Rank: %d", *r.Rank)
			if r.Percentile != nil {
				fmt.Fprintf(&b, " · percentile %.2f", *r.Percentile)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func countTrue(xs []bool) int {
	n := 0
	for _, x := range xs {
		if x {
			n++
		}
	}
	return n
}
