package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const (
	sweepTimeout = 30 * time.Second
	// Submitted attempts get this long to be scored before they are re-queued.
	unscoredAfter = 5 * time.Minute
)

// ExpirySweeper is the slice of the attempt service the sweeper drives.
type ExpirySweeper interface {
	SubmitExpired(ctx context.Context, grace time.Duration) (int, error)
	RequeueUnscored(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper force-submits attempts whose client vanished after the deadline
// and re-queues submitted attempts that never got scored.
type Sweeper struct {
	attempts ExpirySweeper
	schedule string
	grace    time.Duration
	log      zerolog.Logger
}

func NewSweeper(attempts ExpirySweeper, schedule string, grace time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{
		attempts: attempts,
		schedule: schedule,
		grace:    grace,
		log:      log.With().Str("component", "sweeper").Logger(),
	}
}

// Start runs the schedule until ctx is cancelled, then waits for a running
// sweep to finish.
func (s *Sweeper) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.sweep(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	c.Start()
	s.log.Info().Str("schedule", s.schedule).Dur("grace", s.grace).Msg("Sweeper started")

	<-ctx.Done()
	<-c.Stop().Done()
	s.log.Info().Msg("Sweeper stopped")
	return nil
}

func (s *Sweeper) sweep(parent context.Context) {
	if parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()

	submitted, err := s.attempts.SubmitExpired(ctx, s.grace)
	if err != nil {
		s.log.Error().Err(err).Msg("Expired attempt sweep failed")
	} else if submitted > 0 {
		s.log.Info().Int("count", submitted).Msg("Force-submitted expired attempts")
	}

	requeued, err := s.attempts.RequeueUnscored(ctx, unscoredAfter)
	if err != nil {
		s.log.Error().Err(err).Msg("Unscored attempt sweep failed")
	} else if requeued > 0 {
		s.log.Warn().Int("count", requeued).Msg("Re-queued unscored attempts")
	}
}
