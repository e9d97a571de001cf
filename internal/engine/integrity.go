package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

// DefaultMaxViolations applies when neither the attempt nor the options set a cap.
const DefaultMaxViolations = 3

// Monitor counts integrity violations. It reports facts only; what a breach
// leads to is decided by the owner through the violation callback.
// Monitor is confined to the engine loop.
type Monitor struct {
	provider           IntegrityProvider
	maxViolations      int
	fullscreenRequired bool
	log                zerolog.Logger

	violations  int
	armed       bool
	unsubscribe func()
	onViolation func(reason model.ViolationReason, count int)
}

// NewMonitor creates a disarmed monitor.
func NewMonitor(provider IntegrityProvider, maxViolations int, fullscreenRequired bool, log zerolog.Logger) *Monitor {
	if maxViolations <= 0 {
		maxViolations = DefaultMaxViolations
	}
	return &Monitor{
		provider:           provider,
		maxViolations:      maxViolations,
		fullscreenRequired: fullscreenRequired,
		log:                log,
	}
}

// OnViolation registers the callback invoked with each counted violation.
func (m *Monitor) OnViolation(fn func(reason model.ViolationReason, count int)) {
	m.onViolation = fn
}

// Restore seeds the counter with violations recorded before a reload.
func (m *Monitor) Restore(count int) {
	if count > m.violations {
		m.violations = count
	}
}

// Arm subscribes to provider signals. deliver must hand signals back to the
// goroutine that owns the monitor; it must not block.
func (m *Monitor) Arm(deliver func(Signal)) {
	if m.armed {
		return
	}
	m.armed = true
	m.unsubscribe = m.provider.Subscribe(deliver)
}

// Disarm unsubscribes. Reports after Disarm are ignored.
func (m *Monitor) Disarm() {
	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	m.armed = false
}

// Armed reports whether the monitor is counting.
func (m *Monitor) Armed() bool { return m.armed }

// Handle turns a platform signal into a violation where one applies.
func (m *Monitor) Handle(sig Signal) bool {
	switch sig.Kind {
	case SignalFullscreenExit:
		if !m.fullscreenRequired {
			return false
		}
		return m.ReportViolation(model.ViolationFullscreenExit)
	case SignalHidden:
		return m.ReportViolation(model.ViolationTabHidden)
	case SignalBlur:
		return m.ReportViolation(model.ViolationWindowBlur)
	}
	return false
}

// ReportViolation counts one violation while armed.
func (m *Monitor) ReportViolation(reason model.ViolationReason) bool {
	if !m.armed {
		m.log.Debug().Str("reason", string(reason)).Msg("Violation ignored, monitor disarmed")
		return false
	}
	m.violations++
	if m.onViolation != nil {
		m.onViolation(reason, m.violations)
	}
	return true
}

// Violations returns the counter, capped at the maximum.
func (m *Monitor) Violations() int {
	if m.violations > m.maxViolations {
		return m.maxViolations
	}
	return m.violations
}

// Max returns the violation threshold.
func (m *Monitor) Max() int { return m.maxViolations }

// FullscreenRequired reports whether leaving fullscreen counts as a violation.
func (m *Monitor) FullscreenRequired() bool { return m.fullscreenRequired }

func (m *Monitor) EnterFullscreen(ctx context.Context) error {
	if err := m.provider.EnterFullscreen(ctx); err != nil {
		return fmt.Errorf("enter fullscreen: %w", err)
	}
	return nil
}

func (m *Monitor) ExitFullscreen(ctx context.Context) error {
	if err := m.provider.ExitFullscreen(ctx); err != nil {
		return fmt.Errorf("exit fullscreen: %w", err)
	}
	return nil
}

func (m *Monitor) StartMedia(ctx context.Context) error {
	if err := m.provider.StartMedia(ctx); err != nil {
		return fmt.Errorf("start media: %w", err)
	}
	return nil
}

func (m *Monitor) StopMedia(ctx context.Context) error {
	if err := m.provider.StopMedia(ctx); err != nil {
		return fmt.Errorf("stop media: %w", err)
	}
	return nil
}

// Release disarms and unconditionally asks the provider to stop media and
// leave fullscreen. Safe to call any number of times.
func (m *Monitor) Release(ctx context.Context) error {
	m.Disarm()
	return errors.Join(m.StopMedia(ctx), m.ExitFullscreen(ctx))
}
