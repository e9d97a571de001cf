package engine

import (
	"context"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

// AttemptStore is the remote store that owns attempt durability.
type AttemptStore interface {
	LoadAttempt(ctx context.Context, attemptID string) (*model.LoadedAttempt, error)
	// StartAttempt assigns the start instant. Repeated calls return the same instant.
	StartAttempt(ctx context.Context, attemptID string) (time.Time, error)
	SaveAnswer(ctx context.Context, attemptID string, answer model.AnswerSync) error
	// SubmitAttempt is idempotent: a repeat on a submitted attempt returns the original instant.
	SubmitAttempt(ctx context.Context, attemptID string) (time.Time, error)
	// FetchResults returns ErrResultPending while scoring is in progress and
	// ErrResultWithheld when the attempt is submitted but no score will be shown.
	FetchResults(ctx context.Context, attemptID string) (*model.Result, error)
}

// ViolationReporter is optionally implemented by stores that keep a proctoring trail.
type ViolationReporter interface {
	ReportViolation(ctx context.Context, attemptID string, reason model.ViolationReason, count int) error
}

// SignalKind is a platform integrity notification.
type SignalKind int

const (
	SignalFullscreenExit SignalKind = iota + 1
	SignalFullscreenEnter
	SignalHidden
	SignalVisible
	SignalBlur
	SignalFocus
)

func (k SignalKind) String() string {
	switch k {
	case SignalFullscreenExit:
		return "fullscreen-exit"
	case SignalFullscreenEnter:
		return "fullscreen-enter"
	case SignalHidden:
		return "hidden"
	case SignalVisible:
		return "visible"
	case SignalBlur:
		return "blur"
	case SignalFocus:
		return "focus"
	}
	return "unknown"
}

// Signal is one notification from the integrity capability provider.
type Signal struct {
	Kind SignalKind
	At   time.Time
}

// IntegrityProvider is the platform capability used for integrity signals.
// Implementations must be idempotent and must not block; they may invoke the
// subscribed handler from any goroutine, including synchronously.
type IntegrityProvider interface {
	EnterFullscreen(ctx context.Context) error
	ExitFullscreen(ctx context.Context) error
	IsFullscreenActive() bool
	StartMedia(ctx context.Context) error
	StopMedia(ctx context.Context) error
	Subscribe(handler func(Signal)) (unsubscribe func())
}
