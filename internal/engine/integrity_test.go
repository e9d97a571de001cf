package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

func TestMonitor(t *testing.T) {
	t.Run("CountsOnlyWhileArmed", func(t *testing.T) {
		m := NewMonitor(&fakeProvider{log: &callLog{}}, 3, true, zerolog.Nop())
		var reasons []model.ViolationReason
		m.OnViolation(func(r model.ViolationReason, _ int) { reasons = append(reasons, r) })

		if m.ReportViolation(model.ViolationTabHidden) {
			t.Fatal("disarmed monitor must not count")
		}
		m.Arm(func(Signal) {})
		m.Handle(Signal{Kind: SignalHidden})
		m.Handle(Signal{Kind: SignalVisible})
		m.Handle(Signal{Kind: SignalBlur})
		m.Handle(Signal{Kind: SignalFocus})
		m.Handle(Signal{Kind: SignalFullscreenExit})
		m.Disarm()
		m.Handle(Signal{Kind: SignalBlur})

		want := []model.ViolationReason{model.ViolationTabHidden, model.ViolationWindowBlur, model.ViolationFullscreenExit}
		if len(reasons) != len(want) {
			t.Fatalf("expected %v, got %v", want, reasons)
		}
		for i := range want {
			if reasons[i] != want[i] {
				t.Fatalf("expected %v, got %v", want, reasons)
			}
		}
	})

	t.Run("CountIsCapped", func(t *testing.T) {
		m := NewMonitor(&fakeProvider{log: &callLog{}}, 2, false, zerolog.Nop())
		m.Restore(5)
		if got := m.Violations(); got != 2 {
			t.Fatalf("expected cap of 2, got %d", got)
		}
	})

	t.Run("DefaultMax", func(t *testing.T) {
		m := NewMonitor(&fakeProvider{log: &callLog{}}, 0, false, zerolog.Nop())
		if m.Max() != DefaultMaxViolations {
			t.Fatalf("expected default max %d, got %d", DefaultMaxViolations, m.Max())
		}
	})

	t.Run("ReleaseIsIdempotent", func(t *testing.T) {
		log := &callLog{}
		p := &fakeProvider{log: log}
		m := NewMonitor(p, 3, true, zerolog.Nop())
		m.Arm(func(Signal) {})

		for i := 0; i < 2; i++ {
			if err := m.Release(context.Background()); err != nil {
				t.Fatalf("Release: %v", err)
			}
		}
		if m.Armed() || p.subscribed() {
			t.Fatal("expected disarmed after release")
		}
		if n := log.count("unsubscribe"); n != 1 {
			t.Fatalf("expected a single unsubscribe, got %d", n)
		}
		if n := log.count("exit_fullscreen"); n != 2 {
			t.Fatalf("expected exit requested on every release, got %d", n)
		}
	})
}

func TestDeadline(t *testing.T) {
	if d := NewDeadline(nil, 30); d.IsSet() || d.Expired(testEpoch) {
		t.Fatal("deadline without start must be inert")
	}

	d := NewDeadline(timePtr(testEpoch), 30)
	tests := []struct {
		at      time.Time
		want    time.Duration
		expired bool
	}{
		{testEpoch.Add(-time.Minute), 31 * time.Minute, false},
		{testEpoch, 30 * time.Minute, false},
		{testEpoch.Add(29*time.Minute + 59*time.Second), time.Second, false},
		{testEpoch.Add(30 * time.Minute), 0, true},
		{testEpoch.Add(time.Hour), 0, true},
	}
	for _, tt := range tests {
		got, ok := d.Remaining(tt.at)
		if !ok || got != tt.want {
			t.Errorf("Remaining(%v) = %v, want %v", tt.at, got, tt.want)
		}
		if d.Expired(tt.at) != tt.expired {
			t.Errorf("Expired(%v) = %v, want %v", tt.at, !tt.expired, tt.expired)
		}
	}
}

func TestSleep(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("expected full wait with a live context")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if sleep(ctx, time.Hour) {
		t.Fatal("expected early return on a cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled sleep did not return promptly")
	}
}

func TestNavigator(t *testing.T) {
	n := NewNavigator(3)
	if n.Previous() {
		t.Fatal("Previous at 0 must report false")
	}
	if !n.Next() || !n.Next() || n.Next() {
		t.Fatal("expected two moves then a clamp")
	}
	if n.Index() != 2 {
		t.Fatalf("expected index 2, got %d", n.Index())
	}
	if err := n.JumpTo(0); err != nil || n.Index() != 0 {
		t.Fatalf("JumpTo(0): %v", err)
	}
	if err := n.JumpTo(3); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
}

func TestShapeAnswer(t *testing.T) {
	mcq := &model.Question{ID: "q1", Type: model.QuestionTypeMCQ, Options: []model.Option{{ID: "a"}, {ID: "b"}}}
	num := &model.Question{ID: "q2", Type: model.QuestionTypeNumerical}

	v, err := ShapeAnswer(mcq, "b")
	if err != nil {
		t.Fatal(err)
	}
	p := v.Sync("q1", 12, true)
	if p.SelectedOptionID == nil || *p.SelectedOptionID != "b" || p.TextAnswer != nil {
		t.Fatalf("unexpected MCQ payload %+v", p)
	}
	if p.TimeSpentSeconds != 12 || !p.IsMarkedForReview {
		t.Fatalf("metadata not carried: %+v", p)
	}

	v, err = ShapeAnswer(num, "  3,5 ")
	if err != nil {
		t.Fatal(err)
	}
	if v.Raw() != "3,5" {
		t.Fatalf("expected trimmed numeric text, got %q", v.Raw())
	}
	if p := v.Sync("q2", 0, false); p.TextAnswer == nil || p.SelectedOptionID != nil {
		t.Fatalf("unexpected numeric payload %+v", p)
	}

	fill := &model.Question{ID: "q3", Type: model.QuestionTypeFillBlank}
	if _, err := ShapeAnswer(fill, strings.Repeat("é", model.MaxTextAnswerLen)); err != nil {
		t.Fatalf("text at the store limit rejected: %v", err)
	}
	if _, err := ShapeAnswer(fill, strings.Repeat("x", model.MaxTextAnswerLen+1)); err != ErrInvalidAnswer {
		t.Fatalf("expected ErrInvalidAnswer for text over the store limit, got %v", err)
	}

	if _, err := ShapeAnswer(&model.Question{Type: "ESSAY"}, "x"); err != ErrInvalidAnswer {
		t.Fatalf("expected ErrInvalidAnswer for unknown type, got %v", err)
	}
}
