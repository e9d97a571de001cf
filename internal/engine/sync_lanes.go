package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stemsi/exstem-engine/internal/model"
)

const maxSyncBackoff = 5 * time.Second

// syncer delivers answer writes to the store. Each question has its own lane
// with at most one request in flight; writes queued behind it collapse to the
// newest, so the store never sees an older value after a newer one.
type syncer struct {
	send        func(ctx context.Context, p model.AnswerSync) error
	done        func(questionID string, attempts int, err error)
	maxAttempts int
	backoff     time.Duration
	timeout     time.Duration

	mu     sync.Mutex
	lanes  map[string]*lane
	active int
	idle   chan struct{}
}

type lane struct {
	inflight bool
	next     *model.AnswerSync
}

func newSyncer(send func(context.Context, model.AnswerSync) error, done func(string, int, error), maxAttempts int, backoff, timeout time.Duration) *syncer {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &syncer{
		send:        send,
		done:        done,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		timeout:     timeout,
		lanes:       make(map[string]*lane),
	}
}

// Enqueue schedules p without blocking the caller.
func (s *syncer) Enqueue(p model.AnswerSync) {
	s.mu.Lock()
	l, ok := s.lanes[p.QuestionID]
	if !ok {
		l = &lane{}
		s.lanes[p.QuestionID] = l
	}
	l.next = &p
	if l.inflight {
		s.mu.Unlock()
		return
	}
	l.inflight = true
	if s.active == 0 {
		s.idle = make(chan struct{})
	}
	s.active++
	s.mu.Unlock()

	go s.drain(l)
}

func (s *syncer) drain(l *lane) {
	for {
		s.mu.Lock()
		p := l.next
		l.next = nil
		if p == nil {
			l.inflight = false
			s.active--
			if s.active == 0 {
				close(s.idle)
			}
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		attempts, err := s.deliver(l, *p)
		if s.done != nil {
			s.done(p.QuestionID, attempts, err)
		}
	}
}

// deliver retries with exponential backoff until maxAttempts, until the store
// rejects the write outright, or until a newer write for the same question
// makes this one obsolete.
func (s *syncer) deliver(l *lane, p model.AnswerSync) (int, error) {
	delay := s.backoff
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		err := s.send(ctx, p)
		cancel()
		if err == nil {
			return attempt, nil
		}
		if attempt >= s.maxAttempts || errors.Is(err, ErrRejected) || s.superseded(l) {
			return attempt, err
		}
		time.Sleep(delay)
		delay *= 2
		if delay > maxSyncBackoff {
			delay = maxSyncBackoff
		}
	}
}

func (s *syncer) superseded(l *lane) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return l.next != nil
}

// Pending counts questions with a write queued or in flight.
func (s *syncer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, l := range s.lanes {
		if l.inflight || l.next != nil {
			n++
		}
	}
	return n
}

// Wait blocks until every lane is idle or ctx ends.
func (s *syncer) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.active == 0 {
		s.mu.Unlock()
		return nil
	}
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
