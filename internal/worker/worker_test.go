package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

func strPtr(s string) *string { return &s }

func TestLatestAnswers(t *testing.T) {
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	batch := []*model.AnswerJob{
		{AttemptID: "a1", Answer: model.AnswerSync{QuestionID: "q1", SelectedOptionID: strPtr("x")}, SavedAt: t0},
		{AttemptID: "a1", Answer: model.AnswerSync{QuestionID: "q2", TextAnswer: strPtr("42")}, SavedAt: t0},
		{AttemptID: "a1", Answer: model.AnswerSync{QuestionID: "q1", SelectedOptionID: strPtr("z")}, SavedAt: t0.Add(time.Second)},
		// A requeued older write must not win over the newer one.
		{AttemptID: "a1", Answer: model.AnswerSync{QuestionID: "q1", SelectedOptionID: strPtr("y")}, SavedAt: t0.Add(-time.Second)},
		{AttemptID: "a2", Answer: model.AnswerSync{QuestionID: "q1", SelectedOptionID: strPtr("b")}, SavedAt: t0},
	}

	got := latestAnswers(batch)
	if len(got) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(got))
	}
	if v := got[0].Answer.Value(); got[0].AttemptID != "a1" || v != "z" {
		t.Fatalf("expected a1/q1 = z, got %s/%s", got[0].AttemptID, v)
	}
	if got[1].Answer.QuestionID != "q2" || got[2].AttemptID != "a2" {
		t.Fatalf("order not preserved: %+v", got)
	}
}

func TestDedupeScoreJobs(t *testing.T) {
	got := dedupeScoreJobs([]*model.ScoreJob{
		{AttemptID: "a1", ExamID: "e1"},
		{AttemptID: "a2", ExamID: "e1"},
		{AttemptID: "a1", ExamID: "e1"},
	})
	if len(got) != 2 || got[0].AttemptID != "a1" || got[1].AttemptID != "a2" {
		t.Fatalf("unexpected dedupe result %+v", got)
	}
}

func TestUUIDArray(t *testing.T) {
	ids, err := uuidArray([]string{"7f1c2f4e-3a1b-4c7e-9d51-0a2b3c4d5e6f"})
	if err != nil || len(ids) != 1 {
		t.Fatalf("uuidArray: %v", err)
	}
	if _, err := uuidArray([]string{"not-a-uuid"}); err == nil {
		t.Fatal("expected parse error")
	}
}

type fakeSweepable struct {
	expiredCalls  atomic.Int32
	unscoredCalls atomic.Int32
	expiredErr    error
	grace         time.Duration
}

func (f *fakeSweepable) SubmitExpired(_ context.Context, grace time.Duration) (int, error) {
	f.expiredCalls.Add(1)
	f.grace = grace
	return 2, f.expiredErr
}

func (f *fakeSweepable) RequeueUnscored(context.Context, time.Duration) (int, error) {
	f.unscoredCalls.Add(1)
	return 0, nil
}

func TestSweeper(t *testing.T) {
	t.Run("SweepRunsBothPasses", func(t *testing.T) {
		f := &fakeSweepable{expiredErr: errors.New("db down")}
		s := NewSweeper(f, "@every 1m", 30*time.Second, zerolog.Nop())
		s.sweep(context.Background())

		if f.expiredCalls.Load() != 1 || f.unscoredCalls.Load() != 1 {
			t.Fatal("expected both passes to run even when the first fails")
		}
		if f.grace != 30*time.Second {
			t.Fatalf("grace not forwarded, got %v", f.grace)
		}
	})

	t.Run("CancelledContextSkipsSweep", func(t *testing.T) {
		f := &fakeSweepable{}
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		NewSweeper(f, "@every 1m", 0, zerolog.Nop()).sweep(ctx)
		if f.expiredCalls.Load() != 0 {
			t.Fatal("sweep ran after shutdown")
		}
	})

	t.Run("InvalidSchedule", func(t *testing.T) {
		s := NewSweeper(&fakeSweepable{}, "every now and then", 0, zerolog.Nop())
		if err := s.Start(context.Background()); err == nil {
			t.Fatal("expected schedule error")
		}
	})

	t.Run("StopsOnCancel", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- NewSweeper(&fakeSweepable{}, "@every 1h", 0, zerolog.Nop()).Start(ctx) }()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("sweeper did not stop")
		}
	})
}
