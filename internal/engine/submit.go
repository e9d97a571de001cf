package engine

import (
	"context"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

const maxSubmitBackoff = 30 * time.Second

// SubmitTrigger names what started a submission.
type SubmitTrigger string

const (
	TriggerManual     SubmitTrigger = "manual"
	TriggerTimer      SubmitTrigger = "timer"
	TriggerViolations SubmitTrigger = "violations"
)

func (t SubmitTrigger) String() string { return string(t) }

// Forced reports whether the trigger bypasses confirmation.
func (t SubmitTrigger) Forced() bool { return t == TriggerTimer || t == TriggerViolations }

// RequestSubmit opens the confirmation step.
func (e *Engine) RequestSubmit() error {
	return e.do(func() error {
		if e.status != model.AttemptStatusActive {
			return ErrNotActive
		}
		e.confirming = true
		e.notify(e.opts.Clock.Now())
		return nil
	})
}

// CancelSubmit closes the confirmation step without submitting.
func (e *Engine) CancelSubmit() error {
	return e.do(func() error {
		if e.status != model.AttemptStatusActive {
			return ErrNotActive
		}
		e.confirming = false
		e.notify(e.opts.Clock.Now())
		return nil
	})
}

// ConfirmSubmit submits after RequestSubmit. Once a submission is under way,
// further confirmations are no-ops.
func (e *Engine) ConfirmSubmit() error {
	return e.do(func() error {
		switch e.status {
		case model.AttemptStatusSubmitting, model.AttemptStatusSubmitted:
			return nil
		case model.AttemptStatusActive:
			if !e.confirming {
				return ErrNoConfirmation
			}
			e.beginSubmit(TriggerManual, e.opts.Clock.Now())
			return nil
		}
		return ErrNotActive
	})
}

// beginSubmit leaves Active exactly once per submission. Integrity is torn
// down before the submit request is dispatched.
func (e *Engine) beginSubmit(trigger SubmitTrigger, now time.Time) bool {
	if e.status != model.AttemptStatusActive {
		return false
	}
	e.accrue(now)
	e.focusID = ""
	e.status = model.AttemptStatusSubmitting
	e.trigger = trigger
	e.confirming = false
	e.releaseTicks()

	ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
	if err := e.monitor.Release(ctx); err != nil {
		e.log.Warn().Err(err).Msg("Integrity teardown failed")
	}
	cancel()

	e.log.Info().
		Str("trigger", trigger.String()).
		Int("pending_syncs", e.sync.Pending()).
		Msg("Submitting attempt")

	go e.dispatchSubmit(trigger)
	e.notify(now)
	return true
}

// dispatchSubmit flushes answer syncs, then submits. Manual submissions
// report failure back to the loop; forced ones retry until acknowledged or
// until the engine closes.
func (e *Engine) dispatchSubmit(trigger SubmitTrigger) {
	flushCtx, cancel := context.WithTimeout(e.ctx, e.opts.SubmitFlushTimeout)
	if err := e.sync.Wait(flushCtx); err != nil {
		e.log.Warn().Err(err).Msg("Submitting with answer syncs still pending")
	}
	cancel()

	delay := e.opts.SubmitRetryBackoff
	for {
		ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
		at, err := e.store.SubmitAttempt(ctx, e.attemptID)
		cancel()
		if err == nil {
			e.post(func() { e.onSubmitted(at) })
			return
		}
		if !trigger.Forced() {
			e.post(func() { e.onSubmitFailed(trigger, err) })
			return
		}
		if e.ctx.Err() != nil {
			return
		}

		retryIn := delay
		e.post(func() {
			e.log.Warn().Err(err).Str("trigger", trigger.String()).Dur("retry_in", retryIn).Msg("Forced submit failed, retrying")
			e.publish(&SubmitError{Trigger: trigger, Err: err})
		})

		if !sleep(e.ctx, delay) {
			return
		}
		delay *= 2
		if delay > maxSubmitBackoff {
			delay = maxSubmitBackoff
		}
	}
}

func (e *Engine) onSubmitted(at time.Time) {
	if e.status != model.AttemptStatusSubmitting {
		return
	}
	e.status = model.AttemptStatusSubmitted
	if e.submittedAt == nil {
		t := at
		e.submittedAt = &t
	}
	e.log.Info().Time("submitted_at", at).Str("trigger", e.trigger.String()).Msg("Attempt submitted")
	e.startResults()
	e.notify(e.opts.Clock.Now())
}

// onSubmitFailed returns a manual submission to Active. Integrity monitoring
// stays disarmed; the confirmation stays open so the user can retry with a
// single ConfirmSubmit.
func (e *Engine) onSubmitFailed(trigger SubmitTrigger, err error) {
	if e.status != model.AttemptStatusSubmitting {
		return
	}
	e.log.Error().Err(err).Str("trigger", trigger.String()).Msg("Submit failed")
	e.publish(&SubmitError{Trigger: trigger, Err: err})

	now := e.opts.Clock.Now()
	e.status = model.AttemptStatusActive
	e.trigger = ""
	e.confirming = true
	e.acquireTicks()
	e.setFocus(e.currentQuestionID(), now)

	if e.deadline.Expired(now) {
		e.beginSubmit(TriggerTimer, now)
		return
	}
	e.notify(now)
}
