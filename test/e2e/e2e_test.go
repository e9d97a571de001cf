//go:build e2e
// +build e2e

// Package e2e drives a running server (go run ./cmd/server) through the HTTP
// client and the attempt engine. It seeds its own exam into the database the
// server uses.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/client"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/database"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

const defaultBaseURL = "http://localhost:8080/api/v1"

var (
	baseURL   string
	questions []model.QuestionRecord
	attempts  []string
	examID    string
)

func TestMain(m *testing.M) {
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if err := seed(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(m.Run())
}

func seed() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Load()
	log := zerolog.Nop()
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer rdb.Close()

	if err := cleanup(ctx, pool); err != nil {
		return err
	}

	examService := service.NewExamService(repository.NewExamRepository(pool), repository.NewQuestionRepository(pool), rdb, log)
	attemptService := service.NewAttemptService(repository.NewAttemptRepository(pool), repository.NewResultRepository(pool), examService, rdb, log)

	questions = []model.QuestionRecord{
		{
			Text: "Satuan SI untuk gaya adalah...",
			Type: model.QuestionTypeMCQ,
			Options: []model.OptionKey{
				{Text: "Joule"},
				{Text: "Newton", IsCorrect: true},
			},
			Marks:         4,
			NegativeMarks: 1,
		},
		{
			Text:             "Percepatan gravitasi (m/s²)?",
			Type:             model.QuestionTypeNumerical,
			AcceptedAnswers:  []string{"9.81"},
			NumericTolerance: 0.05,
			Marks:            4,
		},
		{
			Text:            "Proses tumbuhan membuat makanan disebut...",
			Type:            model.QuestionTypeFillBlank,
			AcceptedAnswers: []string{"fotosintesis"},
			Marks:           3,
		},
	}
	exam := &model.Exam{
		Title:              "E2E Exam",
		DurationMinutes:    30,
		MaxViolations:      3,
		FullscreenRequired: true,
		ShowResults:        true,
	}
	if err := examService.CreateDraft(ctx, exam, questions); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	if err := examService.Publish(ctx, exam.ID); err != nil {
		return fmt.Errorf("publish exam: %w", err)
	}

	examID = exam.ID
	for i := 0; i < 3; i++ {
		a, err := attemptService.Create(ctx, exam.ID, fmt.Sprintf("e2e-%d", i+1))
		if err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		attempts = append(attempts, a.ID)
	}
	return nil
}

func cleanup(ctx context.Context, pool *pgxpool.Pool) error {
	// Order matters due to FK.
	tables := []string{"attempt_results", "attempt_violations", "attempt_answers", "attempts", "questions", "exams"}
	for _, table := range tables {
		if _, err := pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("cleanup %s: %w", table, err)
		}
	}
	return nil
}

func newStore() *client.AttemptStore {
	return client.NewAttemptStore(baseURL, 10*time.Second, zerolog.Nop())
}

// stubProvider is a provider on a platform that is always fullscreen.
type stubProvider struct {
	mu      sync.Mutex
	handler func(engine.Signal)
}

func (p *stubProvider) EnterFullscreen(context.Context) error { return nil }
func (p *stubProvider) ExitFullscreen(context.Context) error  { return nil }
func (p *stubProvider) IsFullscreenActive() bool              { return true }
func (p *stubProvider) StartMedia(context.Context) error      { return nil }
func (p *stubProvider) StopMedia(context.Context) error       { return nil }

func (p *stubProvider) Subscribe(h func(engine.Signal)) func() {
	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
	}
}

func (p *stubProvider) emit(kind engine.SignalKind) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(engine.Signal{Kind: kind, At: time.Now()})
	}
}

func correctOption(q model.QuestionRecord) string {
	for _, o := range q.Options {
		if o.IsCorrect {
			return o.ID
		}
	}
	return ""
}

func waitFor(t *testing.T, e *engine.Engine, timeout time.Duration, cond func(engine.View) bool) engine.View {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		v := e.View()
		if cond(v) {
			return v
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out, last view: status=%s result=%s", v.Status, v.ResultState)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func TestE2EFlow(t *testing.T) {
	ctx := context.Background()
	attemptID := attempts[0]
	provider := &stubProvider{}

	e, err := engine.Open(ctx, attemptID, newStore(), provider, engine.WithResultsPollInterval(500*time.Millisecond))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer e.Close(ctx)

	t.Run("Activate", func(t *testing.T) {
		if err := e.Activate(ctx); err != nil {
			t.Fatalf("activate: %v", err)
		}
		v := e.View()
		if v.Status != model.AttemptStatusActive || !v.HasDeadline {
			t.Fatalf("unexpected view after activate: %+v", v)
		}
		if v.QuestionCount != len(questions) {
			t.Fatalf("question count = %d, want %d", v.QuestionCount, len(questions))
		}
	})

	t.Run("Answer", func(t *testing.T) {
		answers := map[string]string{
			questions[0].ID: correctOption(questions[0]),
			questions[1].ID: "9.8",
			questions[2].ID: "respirasi",
		}
		for qid, value := range answers {
			if err := e.RecordAnswer(qid, value); err != nil {
				t.Fatalf("record %s: %v", qid, err)
			}
		}
		waitFor(t, e, 10*time.Second, func(v engine.View) bool { return v.PendingSyncs == 0 })

		// A fresh load sees what the engine synced.
		loaded, err := newStore().LoadAttempt(ctx, attemptID)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(loaded.Answers) != len(answers) {
			t.Fatalf("stored %d answers, want %d", len(loaded.Answers), len(answers))
		}
		for _, a := range loaded.Answers {
			if a.Value() != answers[a.QuestionID] {
				t.Errorf("answer %s = %q, want %q", a.QuestionID, a.Value(), answers[a.QuestionID])
			}
		}
	})

	t.Run("Violation", func(t *testing.T) {
		provider.emit(engine.SignalBlur)
		v := waitFor(t, e, 5*time.Second, func(v engine.View) bool { return v.ViolationCount == 1 })
		if v.Status != model.AttemptStatusActive {
			t.Fatalf("one violation must not submit, status = %s", v.Status)
		}
	})

	t.Run("Submit", func(t *testing.T) {
		if err := e.ConfirmSubmit(); !errors.Is(err, engine.ErrNoConfirmation) {
			t.Fatalf("confirm without request: %v", err)
		}
		if err := e.RequestSubmit(); err != nil {
			t.Fatalf("request submit: %v", err)
		}
		if err := e.ConfirmSubmit(); err != nil {
			t.Fatalf("confirm submit: %v", err)
		}
		v := waitFor(t, e, 15*time.Second, func(v engine.View) bool { return v.Status == model.AttemptStatusSubmitted })
		if v.SubmitTrigger != engine.TriggerManual || v.SubmittedAt == nil {
			t.Fatalf("unexpected submitted view: %+v", v)
		}
	})

	t.Run("Results", func(t *testing.T) {
		v := waitFor(t, e, 30*time.Second, func(v engine.View) bool { return v.ResultState == engine.ResultReady })
		r := v.Result
		if r.TotalScore != 8 || r.MaxScore != 11 {
			t.Fatalf("score = %g/%g, want 8/11", r.TotalScore, r.MaxScore)
		}
		if math.Abs(r.Percentage-72.73) > 0.001 {
			t.Fatalf("percentage = %v, want 72.73", r.Percentage)
		}
	})
}

func TestE2ESubmittedAttemptIsFrozen(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	attemptID := attempts[1]

	if _, err := store.StartAttempt(ctx, attemptID); err != nil {
		t.Fatalf("start: %v", err)
	}
	first, err := store.SubmitAttempt(ctx, attemptID)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	t.Run("SubmitIsIdempotent", func(t *testing.T) {
		again, err := store.SubmitAttempt(ctx, attemptID)
		if err != nil {
			t.Fatalf("second submit: %v", err)
		}
		if !again.Equal(first) {
			t.Fatalf("submitted_at moved from %v to %v", first, again)
		}
	})

	t.Run("WritesRejected", func(t *testing.T) {
		text := "7"
		err := store.SaveAnswer(ctx, attemptID, model.AnswerSync{QuestionID: questions[1].ID, TextAnswer: &text})
		if !client.IsCode(err, response.ErrAttemptSubmitted) {
			t.Fatalf("expected ATTEMPT_SUBMITTED, got %v", err)
		}
	})
}

func TestE2ENotStartedAttempt(t *testing.T) {
	ctx := context.Background()
	store := newStore()
	attemptID := attempts[2]

	loaded, err := store.LoadAttempt(ctx, attemptID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.StartedAt != nil || loaded.SubmittedAt != nil {
		t.Fatalf("fresh attempt already started: %+v", loaded)
	}
	for _, q := range loaded.Questions {
		if q.Type.SelectsOption() && len(q.Options) == 0 {
			t.Fatalf("question %s lost its options", q.ID)
		}
	}

	t.Run("WritesRejected", func(t *testing.T) {
		opt := correctOption(questions[0])
		err := store.SaveAnswer(ctx, attemptID, model.AnswerSync{QuestionID: questions[0].ID, SelectedOptionID: &opt})
		if !client.IsCode(err, response.ErrAttemptNotStarted) {
			t.Fatalf("expected ATTEMPT_NOT_STARTED, got %v", err)
		}
	})

	t.Run("ResultsPending", func(t *testing.T) {
		if _, err := store.FetchResults(ctx, attemptID); !errors.Is(err, engine.ErrResultPending) {
			t.Fatalf("expected ErrResultPending, got %v", err)
		}
	})
}

func TestE2EConcurrentSubmitQueuesOnce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg := config.Load()
	log := zerolog.Nop()
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		t.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		t.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	examService := service.NewExamService(repository.NewExamRepository(pool), repository.NewQuestionRepository(pool), rdb, log)
	attemptService := service.NewAttemptService(repository.NewAttemptRepository(pool), repository.NewResultRepository(pool), examService, rdb, log)

	a, err := attemptService.Create(ctx, examID, "e2e-concurrent")
	if err != nil {
		t.Fatalf("create attempt: %v", err)
	}
	if _, err := attemptService.Start(ctx, a.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	const callers = 8
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		first int
		times = make(map[time.Time]bool)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := attemptService.Submit(ctx, a.ID)
			if err != nil {
				t.Errorf("submit: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			times[res.SubmittedAt.UTC()] = true
			if !res.AlreadySubmitted {
				first++
			}
		}()
	}
	wg.Wait()

	if first != 1 {
		t.Fatalf("%d callers saw a first submission, want 1", first)
	}
	if len(times) != 1 {
		t.Fatalf("callers saw %d distinct submitted_at values, want 1", len(times))
	}
}
