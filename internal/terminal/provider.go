// Package terminal provides attempt integrity signals for a terminal session.
// Raw mode stands in for fullscreen: leaving it, shrinking the window below
// the minimum size, suspending the process or losing terminal focus are the
// breaches a terminal can observe.
package terminal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/engine"
	"golang.org/x/term"
)

const (
	focusReportingOn  = "\x1b[?1004h"
	focusReportingOff = "\x1b[?1004l"

	DefaultMinCols = 80
	DefaultMinRows = 24
)

// Options configure a Provider. Zero sizes use the defaults.
type Options struct {
	MinCols int
	MinRows int
	Logger  zerolog.Logger
}

// Provider implements engine.IntegrityProvider on a terminal.
type Provider struct {
	out     io.Writer
	minCols int
	minRows int
	log     zerolog.Logger
	now     func() time.Time

	// Swapped in tests; default to x/term on the input descriptor.
	makeRaw func() (restore func() error, err error)
	getSize func() (cols, rows int, err error)

	mu      sync.Mutex
	restore func() error
	small   bool
	media   bool
	subs    map[int]func(engine.Signal)
	nextSub int

	stopWatch func()
	closeOnce sync.Once
}

var _ engine.IntegrityProvider = (*Provider)(nil)

// New creates a Provider for the terminal on in and starts watching job
// control and resize signals until Close.
func New(in, out *os.File, opts Options) (*Provider, error) {
	fd := int(in.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("stdin is not a terminal")
	}

	p := newProvider(out, opts)
	p.makeRaw = func() (func() error, error) {
		st, err := term.MakeRaw(fd)
		if err != nil {
			return nil, err
		}
		return func() error { return term.Restore(fd, st) }, nil
	}
	p.getSize = func() (int, int, error) { return term.GetSize(fd) }
	p.stopWatch = p.watchSignals()
	return p, nil
}

func newProvider(out io.Writer, opts Options) *Provider {
	if opts.MinCols <= 0 {
		opts.MinCols = DefaultMinCols
	}
	if opts.MinRows <= 0 {
		opts.MinRows = DefaultMinRows
	}
	return &Provider{
		out:     out,
		minCols: opts.MinCols,
		minRows: opts.MinRows,
		log:     opts.Logger.With().Str("component", "terminal_provider").Logger(),
		now:     time.Now,
		subs:    make(map[int]func(engine.Signal)),
	}
}

// EnterFullscreen switches the terminal to raw mode and enables focus reporting.
func (p *Provider) EnterFullscreen(ctx context.Context) error {
	p.mu.Lock()
	if p.restore != nil {
		p.mu.Unlock()
		return nil
	}
	restore, err := p.makeRaw()
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("enter raw mode: %w", err)
	}
	p.restore = restore
	p.mu.Unlock()

	_, _ = io.WriteString(p.out, focusReportingOn)
	p.checkSize()
	return nil
}

// ExitFullscreen restores the terminal. It does not raise a signal; only
// involuntary exits count.
func (p *Provider) ExitFullscreen(ctx context.Context) error {
	p.mu.Lock()
	restore := p.restore
	p.restore = nil
	p.mu.Unlock()
	if restore == nil {
		return nil
	}

	_, _ = io.WriteString(p.out, focusReportingOff)
	if err := restore(); err != nil {
		return fmt.Errorf("restore terminal: %w", err)
	}
	return nil
}

// IsFullscreenActive reports raw mode on a window at least the minimum size.
func (p *Provider) IsFullscreenActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restore != nil && !p.small
}

// StartMedia records that capture is on. A terminal has no camera to drive.
func (p *Provider) StartMedia(ctx context.Context) error {
	p.mu.Lock()
	p.media = true
	p.mu.Unlock()
	return nil
}

func (p *Provider) StopMedia(ctx context.Context) error {
	p.mu.Lock()
	p.media = false
	p.mu.Unlock()
	return nil
}

// MediaActive reports the recorded capture state.
func (p *Provider) MediaActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.media
}

func (p *Provider) Subscribe(handler func(engine.Signal)) func() {
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = handler
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, id)
			p.mu.Unlock()
		})
	}
}

// emit calls subscribers outside the lock so handlers may call back in.
func (p *Provider) emit(kind engine.SignalKind) {
	p.mu.Lock()
	handlers := make([]func(engine.Signal), 0, len(p.subs))
	for _, h := range p.subs {
		handlers = append(handlers, h)
	}
	p.mu.Unlock()

	sig := engine.Signal{Kind: kind, At: p.now()}
	p.log.Debug().Str("signal", kind.String()).Msg("Integrity signal")
	for _, h := range handlers {
		h(sig)
	}
}

// checkSize raises fullscreen exit when the raw window shrinks below the
// minimum and fullscreen enter when it recovers.
func (p *Provider) checkSize() {
	cols, rows, err := p.getSize()
	if err != nil {
		p.log.Warn().Err(err).Msg("Failed to read terminal size")
		return
	}
	small := cols < p.minCols || rows < p.minRows

	p.mu.Lock()
	changed := small != p.small
	p.small = small
	raw := p.restore != nil
	p.mu.Unlock()

	if !changed || !raw {
		return
	}
	if small {
		p.emit(engine.SignalFullscreenExit)
	} else {
		p.emit(engine.SignalFullscreenEnter)
	}
}

// suspended handles a refused job-control stop: the session was hidden for
// an instant and is visible again.
func (p *Provider) suspended() {
	p.emit(engine.SignalHidden)
	p.emit(engine.SignalVisible)
}

// Close stops signal watching and restores the terminal.
func (p *Provider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		if p.stopWatch != nil {
			p.stopWatch()
		}
		err = p.ExitFullscreen(context.Background())
	})
	return err
}
