package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

const (
	signalBuffer = 64
	errorBuffer  = 32
)

// Engine drives one attempt. All state lives on a single goroutine; public
// methods hand work to it and wait for the outcome, network calls run on
// their own goroutines and post their completions back.
type Engine struct {
	attemptID string
	store     AttemptStore
	monitor   *Monitor
	sync      *syncer
	opts      Options
	log       zerolog.Logger

	events    chan func()
	signals   chan Signal
	errs      chan error
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the loop goroutine.
	examID          string
	title           string
	durationMinutes int
	status          model.AttemptStatus
	deadline        Deadline
	submittedAt     *time.Time
	questions       []model.Question
	index           map[string]int
	cache           *AnswerCache
	nav             *Navigator
	ticks           <-chan time.Time
	stopTicks       func()
	focusID         string
	focusSince      time.Time
	activating      bool
	confirming      bool
	trigger         SubmitTrigger
	result          ResultState
	resultData      *model.Result
	stopResults     context.CancelFunc
}

// Open loads the attempt and starts its engine. A load failure is terminal
// and returned as *LoadError.
func Open(ctx context.Context, attemptID string, store AttemptStore, provider IntegrityProvider, opts ...Option) (*Engine, error) {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	o.normalize()

	loaded, err := store.LoadAttempt(ctx, attemptID)
	if err != nil {
		return nil, &LoadError{AttemptID: attemptID, Err: err}
	}
	if len(loaded.Questions) == 0 {
		return nil, &LoadError{AttemptID: attemptID, Err: ErrNoQuestions}
	}

	e, err := newEngine(attemptID, store, provider, loaded, o)
	if err != nil {
		return nil, &LoadError{AttemptID: attemptID, Err: err}
	}

	go e.run()

	if err := e.do(func() error {
		e.resume(loaded)
		return nil
	}); err != nil {
		return nil, err
	}
	return e, nil
}

func newEngine(attemptID string, store AttemptStore, provider IntegrityProvider, loaded *model.LoadedAttempt, o Options) (*Engine, error) {
	questions := make([]model.Question, len(loaded.Questions))
	index := make(map[string]int, len(loaded.Questions))
	for i, q := range loaded.Questions {
		if _, dup := index[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question id %s", q.ID)
		}
		q.Options = append([]model.Option(nil), q.Options...)
		questions[i] = q
		index[q.ID] = i
	}

	log := o.Logger.With().
		Str("component", "attempt_engine").
		Str("attempt_id", attemptID).
		Logger()

	maxViolations := loaded.MaxViolations
	if o.MaxViolations > 0 {
		maxViolations = o.MaxViolations
	}

	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		attemptID:       attemptID,
		store:           store,
		monitor:         NewMonitor(provider, maxViolations, loaded.FullscreenRequired, log),
		opts:            o,
		log:             log,
		events:          make(chan func()),
		signals:         make(chan Signal, signalBuffer),
		errs:            make(chan error, errorBuffer),
		quit:            make(chan struct{}),
		stopped:         make(chan struct{}),
		ctx:             ctx,
		cancel:          cancel,
		examID:          loaded.ExamID,
		title:           loaded.Title,
		durationMinutes: loaded.DurationMinutes,
		status:          model.AttemptStatusNotStarted,
		questions:       questions,
		index:           index,
		cache:           newAnswerCache(),
		nav:             NewNavigator(len(questions)),
		result:          ResultNotRequested,
	}
	e.monitor.OnViolation(e.onViolation)
	e.sync = newSyncer(e.sendAnswer, e.onSyncDone, o.SyncMaxAttempts, o.SyncBackoff, o.RequestTimeout)
	return e, nil
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.events:
			fn()
		case <-e.ticks:
			e.onTick(e.opts.Clock.Now())
		case sig := <-e.signals:
			e.onSignal(sig)
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the loop and returns its error.
func (e *Engine) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case e.events <- func() { errc <- fn() }:
	case <-e.quit:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-e.stopped:
		return ErrClosed
	}
}

// post queues fn from a background goroutine. Never call it from the loop.
func (e *Engine) post(fn func()) {
	select {
	case e.events <- fn:
	case <-e.quit:
	}
}

func (e *Engine) publish(err error) {
	select {
	case e.errs <- err:
	default:
		e.log.Warn().Err(err).Msg("Error channel full, dropping")
	}
}

func (e *Engine) notify(now time.Time) {
	if e.opts.Observer != nil {
		e.opts.Observer(e.view(now))
	}
}

// resume rebuilds local state from the loaded attempt.
func (e *Engine) resume(loaded *model.LoadedAttempt) {
	for _, a := range loaded.Answers {
		i, ok := e.index[a.QuestionID]
		if !ok {
			e.log.Warn().Str("question_id", a.QuestionID).Msg("Dropping stored answer for unknown question")
			continue
		}
		v, err := ShapeAnswer(&e.questions[i], a.Value())
		if err != nil {
			e.log.Warn().Err(err).Str("question_id", a.QuestionID).Msg("Dropping malformed stored answer")
			continue
		}
		e.cache.Restore(v, a)
	}
	e.monitor.Restore(loaded.ViolationCount)
	e.deadline = NewDeadline(loaded.StartedAt, loaded.DurationMinutes)

	now := e.opts.Clock.Now()
	switch {
	case loaded.SubmittedAt != nil:
		at := *loaded.SubmittedAt
		e.status = model.AttemptStatusSubmitted
		e.submittedAt = &at
		e.startResults()
	case loaded.StartedAt != nil:
		e.log.Info().Time("started_at", *loaded.StartedAt).Msg("Resuming active attempt")
		e.enterActive(now)
	}
	e.notify(now)
}

func (e *Engine) enterActive(now time.Time) {
	e.status = model.AttemptStatusActive
	e.acquireTicks()
	e.monitor.Arm(e.deliverSignal)
	e.setFocus(e.currentQuestionID(), now)

	switch {
	case e.deadline.Expired(now):
		e.beginSubmit(TriggerTimer, now)
	case e.monitor.Violations() >= e.monitor.Max():
		e.beginSubmit(TriggerViolations, now)
	}
}

func (e *Engine) acquireTicks() {
	if e.stopTicks != nil {
		return
	}
	e.ticks, e.stopTicks = e.opts.Ticks(e.opts.TickInterval)
}

func (e *Engine) releaseTicks() {
	if e.stopTicks == nil {
		return
	}
	e.stopTicks()
	e.stopTicks = nil
	e.ticks = nil
}

// deliverSignal may run on any goroutine, including the loop itself.
func (e *Engine) deliverSignal(sig Signal) {
	select {
	case e.signals <- sig:
	default:
		e.log.Warn().Str("signal", sig.Kind.String()).Msg("Integrity signal buffer full, dropping")
	}
}

func (e *Engine) onSignal(sig Signal) {
	if e.status != model.AttemptStatusActive {
		return
	}
	e.monitor.Handle(sig)
}

func (e *Engine) onViolation(reason model.ViolationReason, count int) {
	e.log.Warn().
		Str("reason", string(reason)).
		Int("count", count).
		Int("max", e.monitor.Max()).
		Msg("Integrity violation")

	if vr, ok := e.store.(ViolationReporter); ok {
		go func() {
			ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
			defer cancel()
			if err := vr.ReportViolation(ctx, e.attemptID, reason, count); err != nil {
				e.log.Warn().Err(err).Msg("Violation report failed")
			}
		}()
	}

	now := e.opts.Clock.Now()
	if count >= e.monitor.Max() {
		e.beginSubmit(TriggerViolations, now)
	}
	e.notify(now)
}

func (e *Engine) onTick(now time.Time) {
	if e.status != model.AttemptStatusActive {
		return
	}
	e.accrue(now)
	if e.deadline.Expired(now) {
		e.log.Info().Msg("Time is up")
		e.beginSubmit(TriggerTimer, now)
	}
	e.notify(now)
}

// accrue credits whole elapsed seconds to the focused question.
func (e *Engine) accrue(now time.Time) {
	if e.focusID == "" {
		return
	}
	elapsed := now.Sub(e.focusSince)
	if elapsed < 0 {
		e.focusSince = now
		return
	}
	whole := int(elapsed / time.Second)
	if whole == 0 {
		return
	}
	e.cache.AddTime(e.focusID, whole)
	e.focusSince = e.focusSince.Add(time.Duration(whole) * time.Second)
}

func (e *Engine) setFocus(questionID string, now time.Time) {
	e.accrue(now)
	e.focusID = questionID
	e.focusSince = now
}

func (e *Engine) currentQuestionID() string {
	return e.questions[e.nav.Index()].ID
}

func (e *Engine) sendAnswer(ctx context.Context, p model.AnswerSync) error {
	return e.store.SaveAnswer(ctx, e.attemptID, p)
}

// onSyncDone runs on a sync lane goroutine.
func (e *Engine) onSyncDone(questionID string, attempts int, err error) {
	if err == nil {
		return
	}
	e.post(func() {
		e.log.Warn().
			Err(err).
			Str("question_id", questionID).
			Int("attempts", attempts).
			Msg("Answer sync failed, keeping local answer")
		e.publish(&SyncError{QuestionID: questionID, Attempts: attempts, Err: err})
		e.notify(e.opts.Clock.Now())
	})
}

// Activate starts the attempt. The store assigns the start instant.
func (e *Engine) Activate(ctx context.Context) error {
	var proceed bool
	if err := e.do(func() error {
		switch e.status {
		case model.AttemptStatusNotStarted:
			if !e.activating {
				e.activating = true
				proceed = true
			}
			return nil
		case model.AttemptStatusActive:
			return nil
		}
		return ErrNotActive
	}); err != nil || !proceed {
		return err
	}

	startedAt, startErr := e.store.StartAttempt(ctx, e.attemptID)
	return e.do(func() error {
		e.activating = false
		if startErr != nil {
			e.log.Error().Err(startErr).Msg("Activation failed")
			return fmt.Errorf("start attempt: %w", startErr)
		}
		if e.status != model.AttemptStatusNotStarted {
			return nil
		}
		e.deadline = NewDeadline(&startedAt, e.durationMinutes)
		now := e.opts.Clock.Now()
		e.log.Info().Time("started_at", startedAt).Msg("Attempt activated")
		e.enterActive(now)
		e.notify(now)
		return nil
	})
}

// RecordAnswer overwrites the local answer and queues it for syncing.
func (e *Engine) RecordAnswer(questionID, value string) error {
	return e.do(func() error {
		if e.status != model.AttemptStatusActive {
			e.log.Warn().
				Str("question_id", questionID).
				Str("status", string(e.status)).
				Msg("Answer rejected, attempt not active")
			return ErrNotActive
		}
		i, ok := e.index[questionID]
		if !ok {
			return ErrUnknownQuestion
		}
		v, err := ShapeAnswer(&e.questions[i], value)
		if err != nil {
			return err
		}

		now := e.opts.Clock.Now()
		e.accrue(now)
		e.sync.Enqueue(e.cache.Record(questionID, v))
		e.notify(now)
		return nil
	})
}

// AnswerCurrent records value for the question under the cursor.
func (e *Engine) AnswerCurrent(value string) error {
	var questionID string
	if err := e.do(func() error {
		questionID = e.currentQuestionID()
		return nil
	}); err != nil {
		return err
	}
	return e.RecordAnswer(questionID, value)
}

func (e *Engine) Next() error {
	return e.navigate(func() error {
		e.nav.Next()
		return nil
	})
}

func (e *Engine) Previous() error {
	return e.navigate(func() error {
		e.nav.Previous()
		return nil
	})
}

// JumpTo moves the cursor to index, answered or not.
func (e *Engine) JumpTo(index int) error {
	return e.navigate(func() error {
		return e.nav.JumpTo(index)
	})
}

// navigate is allowed while Active and, read-only, once Submitted.
func (e *Engine) navigate(move func() error) error {
	return e.do(func() error {
		if e.status != model.AttemptStatusActive && e.status != model.AttemptStatusSubmitted {
			return ErrNotActive
		}
		if err := move(); err != nil {
			return err
		}
		now := e.opts.Clock.Now()
		if e.status == model.AttemptStatusActive {
			e.setFocus(e.currentQuestionID(), now)
		}
		e.notify(now)
		return nil
	})
}

// ToggleReview flips the review flag of the current question and re-syncs
// its answer when it has one.
func (e *Engine) ToggleReview() error {
	return e.do(func() error {
		if e.status != model.AttemptStatusActive {
			return ErrNotActive
		}
		questionID := e.currentQuestionID()
		marked, p := e.cache.ToggleReview(questionID)
		if p != nil {
			e.sync.Enqueue(*p)
		}
		e.log.Debug().Str("question_id", questionID).Bool("marked", marked).Msg("Review flag toggled")
		e.notify(e.opts.Clock.Now())
		return nil
	})
}

func (e *Engine) EnterFullscreen(ctx context.Context) error {
	return e.capability(func() error { return e.monitor.EnterFullscreen(ctx) })
}

func (e *Engine) StartMedia(ctx context.Context) error {
	return e.capability(func() error { return e.monitor.StartMedia(ctx) })
}

// ExitFullscreen is always allowed; leaving fullscreen while it is required
// counts as a violation through the provider's signal.
func (e *Engine) ExitFullscreen(ctx context.Context) error {
	return e.do(func() error { return e.monitor.ExitFullscreen(ctx) })
}

func (e *Engine) StopMedia(ctx context.Context) error {
	return e.do(func() error { return e.monitor.StopMedia(ctx) })
}

func (e *Engine) capability(fn func() error) error {
	return e.do(func() error {
		if e.status != model.AttemptStatusActive {
			return ErrNotActive
		}
		return fn()
	})
}

// View returns a freshly computed view model.
func (e *Engine) View() View {
	var v View
	_ = e.do(func() error {
		v = e.view(e.opts.Clock.Now())
		return nil
	})
	return v
}

// Answer returns the local record for questionID.
func (e *Engine) Answer(questionID string) (model.AnswerRecord, bool) {
	var (
		rec model.AnswerRecord
		ok  bool
	)
	_ = e.do(func() error {
		rec, ok = e.cache.Get(questionID)
		return nil
	})
	return rec, ok
}

// Errors delivers load, sync and submit errors for presentation. Sync errors
// are informational and should not interrupt the user.
func (e *Engine) Errors() <-chan error { return e.errs }

// Close releases integrity capabilities if the attempt is still active,
// cancels results polling and stops the loop. In-flight answer syncs are not
// cancelled; Close waits for them until ctx ends.
func (e *Engine) Close(ctx context.Context) error {
	e.closeOnce.Do(func() {
		_ = e.do(func() error {
			e.releaseTicks()
			if e.status == model.AttemptStatusActive {
				if err := e.monitor.Release(ctx); err != nil {
					e.log.Warn().Err(err).Msg("Integrity teardown failed")
				}
			}
			if e.stopResults != nil {
				e.stopResults()
			}
			return nil
		})
		e.cancel()
		close(e.quit)
		<-e.stopped
	})
	return e.sync.Wait(ctx)
}
