package engine

import (
	"time"

	"github.com/rs/zerolog"
)

// Options tune an Engine. Zero values fall back to DefaultOptions.
type Options struct {
	MaxViolations       int
	TickInterval        time.Duration
	SyncMaxAttempts     int
	SyncBackoff         time.Duration
	RequestTimeout      time.Duration
	SubmitFlushTimeout  time.Duration
	SubmitRetryBackoff  time.Duration
	ResultsPollInterval time.Duration

	Clock    Clock
	Ticks    TickSource
	Logger   zerolog.Logger
	Observer func(View)
}

type Option func(*Options)

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		TickInterval:        time.Second,
		SyncMaxAttempts:     3,
		SyncBackoff:         250 * time.Millisecond,
		RequestTimeout:      10 * time.Second,
		SubmitFlushTimeout:  5 * time.Second,
		SubmitRetryBackoff:  time.Second,
		ResultsPollInterval: 3 * time.Second,
		Clock:               systemClock{},
		Ticks:               systemTicks,
		Logger:              zerolog.Nop(),
	}
}

// WithMaxViolations overrides the attempt's violation threshold.
func WithMaxViolations(n int) Option { return func(o *Options) { o.MaxViolations = n } }

func WithTickInterval(d time.Duration) Option { return func(o *Options) { o.TickInterval = d } }

// WithSyncRetry bounds answer sync retries.
func WithSyncRetry(maxAttempts int, backoff time.Duration) Option {
	return func(o *Options) {
		o.SyncMaxAttempts = maxAttempts
		o.SyncBackoff = backoff
	}
}

func WithRequestTimeout(d time.Duration) Option { return func(o *Options) { o.RequestTimeout = d } }

// WithSubmitRetryBackoff sets the initial delay between forced-submit retries.
func WithSubmitRetryBackoff(d time.Duration) Option {
	return func(o *Options) { o.SubmitRetryBackoff = d }
}

func WithResultsPollInterval(d time.Duration) Option {
	return func(o *Options) { o.ResultsPollInterval = d }
}

func WithClock(c Clock) Option { return func(o *Options) { o.Clock = c } }

func WithTickSource(t TickSource) Option { return func(o *Options) { o.Ticks = t } }

func WithLogger(l zerolog.Logger) Option { return func(o *Options) { o.Logger = l } }

// WithObserver registers a callback that receives a fresh View after every
// state change and tick. It runs on the engine loop and must not call back
// into the Engine.
func WithObserver(fn func(View)) Option { return func(o *Options) { o.Observer = fn } }

func (o *Options) normalize() {
	def := DefaultOptions()
	if o.TickInterval <= 0 {
		o.TickInterval = def.TickInterval
	}
	if o.SyncMaxAttempts <= 0 {
		o.SyncMaxAttempts = def.SyncMaxAttempts
	}
	if o.SyncBackoff <= 0 {
		o.SyncBackoff = def.SyncBackoff
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = def.RequestTimeout
	}
	if o.SubmitFlushTimeout <= 0 {
		o.SubmitFlushTimeout = def.SubmitFlushTimeout
	}
	if o.SubmitRetryBackoff <= 0 {
		o.SubmitRetryBackoff = def.SubmitRetryBackoff
	}
	if o.ResultsPollInterval <= 0 {
		o.ResultsPollInterval = def.ResultsPollInterval
	}
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	if o.Ticks == nil {
		o.Ticks = def.Ticks
	}
}
