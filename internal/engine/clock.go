package engine

import (
	"context"
	"time"
)

// Clock supplies the current instant. It is read fresh on every evaluation.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// sleep waits for d or until ctx is done, whichever comes first. It reports
// whether the full duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// TickSource acquires an interval resource and returns its channel and release func.
type TickSource func(interval time.Duration) (<-chan time.Time, func())

func systemTicks(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}

// Deadline is a fixed point in time derived from a start instant and a duration.
// Remaining time is always recomputed from it, never decremented.
type Deadline struct {
	startedAt time.Time
	duration  time.Duration
	set       bool
}

// NewDeadline builds a deadline. A nil startedAt yields an inert deadline.
func NewDeadline(startedAt *time.Time, durationMinutes int) Deadline {
	if startedAt == nil {
		return Deadline{duration: time.Duration(durationMinutes) * time.Minute}
	}
	return Deadline{
		startedAt: *startedAt,
		duration:  time.Duration(durationMinutes) * time.Minute,
		set:       true,
	}
}

// IsSet reports whether the deadline has a start instant.
func (d Deadline) IsSet() bool { return d.set }

// StartedAt returns the start instant.
func (d Deadline) StartedAt() time.Time { return d.startedAt }

// EndsAt returns the deadline instant.
func (d Deadline) EndsAt() time.Time { return d.startedAt.Add(d.duration) }

// Remaining returns max(0, EndsAt-now). ok is false while the clock is inert.
func (d Deadline) Remaining(now time.Time) (remaining time.Duration, ok bool) {
	if !d.set {
		return 0, false
	}
	remaining = d.EndsAt().Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Expired reports whether the deadline has been reached.
func (d Deadline) Expired(now time.Time) bool {
	rem, ok := d.Remaining(now)
	return ok && rem == 0
}
