// Command attempt runs one exam attempt interactively in a terminal against
// the attempt store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/client"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/terminal"
	"golang.org/x/term"
)

const closeTimeout = 10 * time.Second

func main() {
	attemptID := flag.String("attempt", "", "attempt id (required)")
	storeURL := flag.String("store", "", "attempt store base URL (default $ATTEMPT_STORE_URL)")
	minCols := flag.Int("min-cols", terminal.DefaultMinCols, "smallest terminal width that counts as fullscreen")
	minRows := flag.Int("min-rows", terminal.DefaultMinRows, "smallest terminal height that counts as fullscreen")
	logPath := flag.String("log", filepath.Join(os.TempDir(), "exstem-attempt.log"), "log file")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	if *attemptID == "" {
		fmt.Fprintln(os.Stderr, "usage: attempt -attempt <attempt_id>")
		os.Exit(2)
	}

	cfg := config.LoadEngine()
	if *storeURL != "" {
		cfg.StoreURL = *storeURL
	}

	// The screen belongs to the runner; logs go to a file.
	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log := logger.ForAttempt(logger.SetupWriter(*logLevel, "json", logFile), *attemptID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, *attemptID, cfg, terminal.Options{MinCols: *minCols, MinRows: *minRows, Logger: log}, log)
	if err != nil {
		log.Error().Err(err).Msg("Attempt runner failed")
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, attemptID string, cfg config.EngineConfig, topts terminal.Options, log zerolog.Logger) error {
	prov, err := terminal.New(os.Stdin, os.Stdout, topts)
	if err != nil {
		return err
	}
	defer prov.Close()

	views := make(chan engine.View, 1)
	opts := []engine.Option{
		engine.WithTickInterval(cfg.TickInterval),
		engine.WithSyncRetry(cfg.SyncMaxAttempts, cfg.SyncBackoff),
		engine.WithRequestTimeout(cfg.StoreTimeout),
		engine.WithResultsPollInterval(cfg.ResultsPollInterval),
		engine.WithLogger(log),
		engine.WithObserver(latest(views)),
	}
	if cfg.MaxViolations > 0 {
		opts = append(opts, engine.WithMaxViolations(cfg.MaxViolations))
	}

	store := client.NewAttemptStore(cfg.StoreURL, cfg.StoreTimeout, log)
	eng, err := engine.Open(ctx, attemptID, store, prov, opts...)
	if err != nil {
		return err
	}

	// The line editor needs raw mode in every state, not only while the
	// attempt is being monitored.
	if err := prov.EnterFullscreen(ctx); err != nil {
		_ = eng.Close(ctx)
		return err
	}

	screen := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{prov.Input(os.Stdin), os.Stdout}, "> ")

	r := &runner{eng: eng, prov: prov, screen: screen, log: log}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.watchViews(ctx, views, done) }()
	go func() { defer wg.Done(); r.watchErrors(done) }()

	loopErr := make(chan error, 1)
	go func() { loopErr <- r.loop(ctx) }()

	select {
	case err = <-loopErr:
	case <-ctx.Done():
		r.printf("\nInterrupted. Your answers are saved; the attempt keeps running.\n")
	}

	close(done)
	wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if cerr := eng.Close(closeCtx); cerr != nil {
		log.Warn().Err(cerr).Msg("Pending answers did not finish syncing")
	}
	return err
}

// latest keeps only the newest view so a slow screen never blocks the engine.
func latest(ch chan engine.View) func(engine.View) {
	return func(v engine.View) {
		for {
			select {
			case ch <- v:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	}
}

type runner struct {
	eng    *engine.Engine
	prov   *terminal.Provider
	screen *term.Terminal
	log    zerolog.Logger
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.screen, format, args...)
}

func (r *runner) loop(ctx context.Context) error {
	v := r.eng.View()
	r.printf("%s\n", v.Title)

	if v.Status == model.AttemptStatusNotStarted {
		r.printf("%d questions. Press Enter to start or type quit to leave.\n", v.QuestionCount)
		r.screen.SetPrompt(prompt(v))
		line, err := r.screen.ReadLine()
		if err != nil {
			return ignoreEOF(err)
		}
		if cmd, err := parseCommand(line); err == nil && cmd.verb == verbQuit {
			return nil
		}
		if err := r.eng.Activate(ctx); err != nil {
			return err
		}
		v = r.eng.View()
	}

	switch v.Status {
	case model.AttemptStatusActive:
		if err := r.eng.EnterFullscreen(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Fullscreen unavailable")
		}
		if err := r.eng.StartMedia(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Media unavailable")
		}
		r.printf("Type help for commands.\n")
		r.printf("%s", renderQuestion(v))
	case model.AttemptStatusSubmitted, model.AttemptStatusSubmitting:
		r.printf("%s", renderResult(v))
	}
	r.screen.SetPrompt(prompt(v))

	for {
		line, err := r.screen.ReadLine()
		if err != nil {
			return ignoreEOF(err)
		}
		cmd, err := parseCommand(line)
		if errors.Is(err, errEmpty) {
			continue
		}
		if err != nil {
			r.printf("%v\n", err)
			continue
		}
		if cmd.verb == verbQuit {
			return nil
		}
		if err := r.dispatch(cmd); err != nil {
			r.printf("%s\n", describe(err))
		}
	}
}

func (r *runner) dispatch(cmd command) error {
	switch cmd.verb {
	case verbNext:
		return r.moved(r.eng.Next())
	case verbPrev:
		return r.moved(r.eng.Previous())
	case verbJump:
		return r.moved(r.eng.JumpTo(cmd.index))
	case verbAnswer:
		v := r.eng.View()
		value, err := resolveAnswer(&v.CurrentQuestion, cmd.arg)
		if err != nil {
			return err
		}
		return r.moved(r.eng.AnswerCurrent(value))
	case verbClear:
		return r.moved(r.eng.AnswerCurrent(""))
	case verbReview:
		return r.moved(r.eng.ToggleReview())
	case verbSubmit:
		if err := r.eng.RequestSubmit(); err != nil {
			return err
		}
		r.printf("%s", renderOverview(r.eng.View()))
	case verbConfirm:
		return r.eng.ConfirmSubmit()
	case verbCancel:
		return r.moved(r.eng.CancelSubmit())
	case verbView:
		v := r.eng.View()
		if v.Status == model.AttemptStatusSubmitted {
			r.printf("%s", renderResult(v))
		} else {
			r.printf("%s", renderQuestion(v))
		}
	case verbHelp:
		r.printf("%s", helpText)
	}
	return nil
}

// moved redraws the current question after a successful change.
func (r *runner) moved(err error) error {
	if err != nil {
		return err
	}
	r.printf("%s", renderQuestion(r.eng.View()))
	return nil
}

// watchViews reports changes the user did not cause: violations, forced
// submission and results. It also keeps the prompt clock current.
func (r *runner) watchViews(ctx context.Context, views <-chan engine.View, done <-chan struct{}) {
	var prev *engine.View
	for {
		select {
		case <-done:
			return
		case v := <-views:
			r.screen.SetPrompt(prompt(v))
			if prev != nil {
				r.announce(ctx, *prev, v)
			}
			prev = &v
		}
	}
}

func (r *runner) announce(ctx context.Context, prev, v engine.View) {
	if v.ViolationCount > prev.ViolationCount && v.Status == model.AttemptStatusActive {
		r.printf("\n! Integrity violation %d of %d. Stay in this window.\n", v.ViolationCount, v.MaxViolations)
	}
	if v.Status == prev.Status && v.ResultState == prev.ResultState {
		return
	}

	// Submission releases the terminal; the editor still needs raw mode.
	// Monitoring is disarmed by then, so this is not counted.
	if v.Status != prev.Status && !v.MonitoringArmed {
		if err := r.prov.EnterFullscreen(ctx); err != nil {
			r.log.Warn().Err(err).Msg("Could not restore raw mode")
		}
	}

	switch v.Status {
	case model.AttemptStatusSubmitting:
		if prev.Status != model.AttemptStatusSubmitting {
			r.printf("\nSubmitting...\n")
		}
	case model.AttemptStatusSubmitted:
		r.printf("%s", renderResult(v))
	}
}

func (r *runner) watchErrors(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case err := <-r.eng.Errors():
			var (
				syncErr   *engine.SyncError
				submitErr *engine.SubmitError
			)
			switch {
			case errors.As(err, &syncErr):
				r.printf("\n(answer to %s not saved: %v)\n", syncErr.QuestionID, syncErr.Err)
			case errors.As(err, &submitErr) && !submitErr.Trigger.Forced():
				r.printf("\nSubmission failed: %v\nType confirm to try again or cancel to keep working.\n", submitErr.Err)
			case errors.As(err, &submitErr):
				r.printf("\nSubmission not acknowledged yet, retrying...\n")
			default:
				r.printf("\n%s\n", describe(err))
			}
		}
	}
}

func describe(err error) string {
	switch {
	case errors.Is(err, engine.ErrNotActive):
		return "The attempt is not active."
	case errors.Is(err, engine.ErrOutOfRange):
		return "No such question."
	case errors.Is(err, engine.ErrInvalidAnswer):
		return "That answer does not fit this question."
	case errors.Is(err, engine.ErrNoConfirmation):
		return "Type submit first."
	}
	return err.Error()
}

func ignoreEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}
