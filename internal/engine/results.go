package engine

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-engine/internal/model"
)

type ResultState string

const (
	ResultNotRequested ResultState = "NOT_REQUESTED"
	ResultEvaluating   ResultState = "EVALUATING"
	ResultReady        ResultState = "READY"
	ResultWithheld     ResultState = "WITHHELD"
)

func (e *Engine) startResults() {
	if e.stopResults != nil {
		return
	}
	e.result = ResultEvaluating
	ctx, cancel := context.WithCancel(e.ctx)
	e.stopResults = cancel
	go e.pollResults(ctx)
}

// pollResults asks the store until a result is ready or withheld. Completions
// are discarded if the poll was cancelled in the meantime.
func (e *Engine) pollResults(ctx context.Context) {
	for {
		reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		res, err := e.store.FetchResults(reqCtx, e.attemptID)
		cancel()

		switch {
		case err == nil:
			e.post(func() {
				if ctx.Err() == nil {
					e.onResult(ResultReady, res)
				}
			})
			return
		case errors.Is(err, ErrResultWithheld):
			e.post(func() {
				if ctx.Err() == nil {
					e.onResult(ResultWithheld, nil)
				}
			})
			return
		case ctx.Err() != nil:
			return
		case !errors.Is(err, ErrResultPending):
			e.log.Warn().Err(err).Msg("Fetching results failed, retrying")
		}

		if !sleep(ctx, e.opts.ResultsPollInterval) {
			return
		}
	}
}

func (e *Engine) onResult(state ResultState, res *model.Result) {
	e.result = state
	e.resultData = res
	if res != nil {
		e.log.Info().
			Float64("total_score", res.TotalScore).
			Float64("max_score", res.MaxScore).
			Msg("Result ready")
	}
	e.notify(e.opts.Clock.Now())
}
