package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

var errStoreDown = errors.New("store unavailable")

// callLog records side effects across fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func (l *callLog) index(name string) int {
	for i, c := range l.snapshot() {
		if c == name {
			return i
		}
	}
	return -1
}

func (l *callLog) count(name string) int {
	n := 0
	for _, c := range l.snapshot() {
		if c == name {
			n++
		}
	}
	return n
}

type resultReply struct {
	result *model.Result
	err    error
}

type fakeStore struct {
	mu  sync.Mutex
	log *callLog

	loaded  *model.LoadedAttempt
	loadErr error

	startAt    time.Time
	startErr   error
	startCalls int

	saves    []model.AnswerSync
	saveHook func(p model.AnswerSync) error

	submitAt    time.Time
	submitErrs  []error
	submitCalls int

	results      []resultReply
	resultsCalls int

	violations []model.ViolationReason
}

func newFakeStore(log *callLog, loaded *model.LoadedAttempt) *fakeStore {
	return &fakeStore{
		log:      log,
		loaded:   loaded,
		startAt:  testEpoch,
		submitAt: testEpoch.Add(30 * time.Minute),
	}
}

func (s *fakeStore) LoadAttempt(ctx context.Context, attemptID string) (*model.LoadedAttempt, error) {
	s.log.add("load")
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.loaded, nil
}

func (s *fakeStore) StartAttempt(ctx context.Context, attemptID string) (time.Time, error) {
	s.log.add("start")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCalls++
	return s.startAt, s.startErr
}

func (s *fakeStore) SaveAnswer(ctx context.Context, attemptID string, p model.AnswerSync) error {
	s.log.add("save:" + p.QuestionID)
	s.mu.Lock()
	hook := s.saveHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(p); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.saves = append(s.saves, p)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) SubmitAttempt(ctx context.Context, attemptID string) (time.Time, error) {
	s.log.add("submit")
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	if len(s.submitErrs) > 0 {
		err := s.submitErrs[0]
		s.submitErrs = s.submitErrs[1:]
		if err != nil {
			return time.Time{}, err
		}
	}
	return s.submitAt, nil
}

func (s *fakeStore) FetchResults(ctx context.Context, attemptID string) (*model.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultsCalls++
	if len(s.results) == 0 {
		return nil, ErrResultPending
	}
	r := s.results[0]
	if len(s.results) > 1 {
		s.results = s.results[1:]
	}
	return r.result, r.err
}

func (s *fakeStore) ReportViolation(ctx context.Context, attemptID string, reason model.ViolationReason, count int) error {
	s.mu.Lock()
	s.violations = append(s.violations, reason)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) savedFor(questionID string) []model.AnswerSync {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AnswerSync
	for _, p := range s.saves {
		if p.QuestionID == questionID {
			out = append(out, p)
		}
	}
	return out
}

func (s *fakeStore) submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

type fakeProvider struct {
	mu         sync.Mutex
	log        *callLog
	handler    func(Signal)
	fullscreen bool
	enterErr   error

	// emitOnSubscribe, when set, is delivered synchronously from Subscribe.
	emitOnSubscribe SignalKind
}

func (p *fakeProvider) EnterFullscreen(ctx context.Context) error {
	p.log.add("enter_fullscreen")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enterErr != nil {
		return p.enterErr
	}
	p.fullscreen = true
	return nil
}

func (p *fakeProvider) ExitFullscreen(ctx context.Context) error {
	p.log.add("exit_fullscreen")
	p.mu.Lock()
	p.fullscreen = false
	p.mu.Unlock()
	return nil
}

func (p *fakeProvider) IsFullscreenActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fullscreen
}

func (p *fakeProvider) StartMedia(ctx context.Context) error {
	p.log.add("start_media")
	return nil
}

func (p *fakeProvider) StopMedia(ctx context.Context) error {
	p.log.add("stop_media")
	return nil
}

func (p *fakeProvider) Subscribe(handler func(Signal)) func() {
	p.log.add("subscribe")
	p.mu.Lock()
	p.handler = handler
	emit := p.emitOnSubscribe
	p.mu.Unlock()
	if emit != 0 {
		handler(Signal{Kind: emit, At: time.Now()})
	}
	return func() {
		p.log.add("unsubscribe")
		p.mu.Lock()
		p.handler = nil
		p.mu.Unlock()
	}
}

func (p *fakeProvider) emit(kind SignalKind) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h != nil {
		h(Signal{Kind: kind, At: time.Now()})
	}
}

func (p *fakeProvider) subscribed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.handler != nil
}

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// manualTicks hands out one channel that tests drive by hand.
type manualTicks struct {
	ch       chan time.Time
	mu       sync.Mutex
	acquired int
	released int
}

func newManualTicks() *manualTicks { return &manualTicks{ch: make(chan time.Time)} }

func (m *manualTicks) source(time.Duration) (<-chan time.Time, func()) {
	m.mu.Lock()
	m.acquired++
	m.mu.Unlock()
	return m.ch, func() {
		m.mu.Lock()
		m.released++
		m.mu.Unlock()
	}
}

// tick delivers one tick and reports whether the engine consumed it.
func (m *manualTicks) tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

func (m *manualTicks) held() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquired > m.released
}

type harness struct {
	t        *testing.T
	log      *callLog
	store    *fakeStore
	provider *fakeProvider
	clock    *fakeClock
	ticks    *manualTicks
	engine   *Engine
}

func newHarness(t *testing.T, loaded *model.LoadedAttempt) *harness {
	t.Helper()
	log := &callLog{}
	return &harness{
		t:        t,
		log:      log,
		store:    newFakeStore(log, loaded),
		provider: &fakeProvider{log: log},
		clock:    newFakeClock(testEpoch),
		ticks:    newManualTicks(),
	}
}

func (h *harness) open(extra ...Option) *Engine {
	h.t.Helper()
	opts := append([]Option{
		WithClock(h.clock),
		WithTickSource(h.ticks.source),
		WithSyncRetry(2, time.Millisecond),
		WithSubmitRetryBackoff(time.Millisecond),
		WithResultsPollInterval(5 * time.Millisecond),
		WithRequestTimeout(time.Second),
	}, extra...)
	e, err := Open(context.Background(), h.store.loaded.AttemptID, h.store, h.provider, opts...)
	if err != nil {
		h.t.Fatalf("Open: %v", err)
	}
	h.engine = e
	h.t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = e.Close(ctx)
	})
	return e
}

// activate opens and starts the attempt at the harness clock.
func (h *harness) activate(extra ...Option) *Engine {
	h.t.Helper()
	h.store.startAt = h.clock.Now()
	e := h.open(extra...)
	if err := e.Activate(context.Background()); err != nil {
		h.t.Fatalf("Activate: %v", err)
	}
	return e
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sampleAttempt() *model.LoadedAttempt {
	return &model.LoadedAttempt{
		AttemptID:          "att-1",
		ExamID:             "exam-1",
		Title:              "Physics Midterm",
		DurationMinutes:    60,
		MaxViolations:      3,
		FullscreenRequired: true,
		Questions: []model.Question{
			{ID: "q1", Type: model.QuestionTypeMCQ, Text: "Unit of force?", Marks: 4, NegativeMarks: 1,
				Options: []model.Option{{ID: "a", Text: "Newton"}, {ID: "b", Text: "Joule"}}},
			{ID: "q2", Type: model.QuestionTypeTrueFalse, Text: "Light is a wave.", Marks: 1,
				Options: []model.Option{{ID: "t", Text: "True"}, {ID: "f", Text: "False"}}},
			{ID: "q3", Type: model.QuestionTypeFillBlank, Text: "F = m * ___", Marks: 2},
			{ID: "q4", Type: model.QuestionTypeNumerical, Text: "g in m/s^2", Marks: 2},
		},
	}
}

func timePtr(t time.Time) *time.Time { return &t }
