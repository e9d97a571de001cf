package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAttemptNotFound     = errors.New("attempt not found")
	ErrAttemptNotStarted   = errors.New("attempt has not been started")
	ErrAttemptSubmitted    = errors.New("attempt is already submitted")
	ErrAttemptExpired      = errors.New("attempt time is over")
	ErrAttemptNotSubmitted = errors.New("attempt is not submitted yet")
	ErrQuestionNotInExam   = errors.New("question is not part of this attempt")
	ErrInvalidAnswer       = errors.New("answer does not fit the question type")
	ErrResultPending       = errors.New("result is still being evaluated")
)

const (
	metaTTL = 24 * time.Hour
	// Writes already in flight when the deadline passes are still accepted.
	lateWriteGrace = 10 * time.Second
)

// AttemptService owns the attempt lifecycle on the server side. Redis is the
// hot path; PostgreSQL is written behind it by the workers.
type AttemptService struct {
	attemptRepo *repository.AttemptRepository
	resultRepo  *repository.ResultRepository
	examService *ExamService
	rdb         *redis.Client
	log         zerolog.Logger
	now         func() time.Time
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	resultRepo *repository.ResultRepository,
	examService *ExamService,
	rdb *redis.Client,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		attemptRepo: attemptRepo,
		resultRepo:  resultRepo,
		examService: examService,
		rdb:         rdb,
		log:         log.With().Str("component", "attempt_service").Logger(),
		now:         time.Now,
	}
}

func (s *AttemptService) getAttempt(ctx context.Context, attemptID string) (*model.Attempt, error) {
	a, err := s.attemptRepo.GetByID(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	return a, nil
}

// Create registers an attempt for a student, returning the existing one on repeat.
func (s *AttemptService) Create(ctx context.Context, examID, studentRef string) (*model.Attempt, error) {
	if _, err := s.examService.GetExamPayload(ctx, examID); err != nil {
		return nil, err
	}
	a := &model.Attempt{ExamID: examID, StudentRef: studentRef}
	if err := s.attemptRepo.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create attempt: %w", err)
	}
	return a, nil
}

// Load assembles everything a client needs to run the attempt. The grading
// key never leaves the server.
func (s *AttemptService) Load(ctx context.Context, attemptID string) (*model.LoadedAttempt, error) {
	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}

	var (
		payload    *model.ExamPayload
		order      []string
		answers    []model.AnswerSync
		violations int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.examService.GetExamPayload(gctx, attempt.ExamID)
		if err != nil {
			return err
		}
		payload = p
		return nil
	})
	g.Go(func() error {
		o, err := s.cachedOrder(gctx, attempt)
		if err != nil {
			return err
		}
		order = o
		return nil
	})
	g.Go(func() error {
		a, err := s.loadAnswers(gctx, attempt)
		if err != nil {
			return err
		}
		answers = a
		return nil
	})
	g.Go(func() error {
		n, err := s.rdb.Get(gctx, config.CacheKey.AttemptViolationsKey(attemptID)).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("get violation counter: %w", err)
		}
		violations = max(n, attempt.ViolationCount)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if len(order) == 0 {
		order, err = s.freezeOrder(ctx, attemptID, payload)
		if err != nil {
			return nil, err
		}
	}

	return &model.LoadedAttempt{
		AttemptID:          attempt.ID,
		ExamID:             attempt.ExamID,
		Title:              payload.Title,
		StartedAt:          attempt.StartedAt,
		SubmittedAt:        attempt.SubmittedAt,
		DurationMinutes:    payload.DurationMinutes,
		MaxViolations:      payload.MaxViolations,
		FullscreenRequired: payload.FullscreenRequired,
		ViolationCount:     violations,
		Questions:          applyOrder(payload.Questions, order),
		Answers:            answers,
	}, nil
}

// cachedOrder returns the frozen question order from Redis, then Postgres.
// Nil means none was assigned yet.
func (s *AttemptService) cachedOrder(ctx context.Context, attempt *model.Attempt) ([]string, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.AttemptQuestionOrderKey(attempt.ID)).Bytes()
	if err == nil {
		var order []string
		if err := json.Unmarshal(data, &order); err != nil {
			return nil, fmt.Errorf("unmarshal question order: %w", err)
		}
		return order, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get question order: %w", err)
	}
	return attempt.QuestionOrder, nil
}

// freezeOrder assigns the attempt's question order exactly once. Concurrent
// loads race on SETNX and the loser adopts the winner's order.
func (s *AttemptService) freezeOrder(ctx context.Context, attemptID string, payload *model.ExamPayload) ([]string, error) {
	order := make([]string, len(payload.Questions))
	for i, q := range payload.Questions {
		order[i] = q.ID
	}
	if payload.RandomizeQuestions {
		rand.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
	}

	data, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("marshal question order: %w", err)
	}
	key := config.CacheKey.AttemptQuestionOrderKey(attemptID)
	won, err := s.rdb.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("store question order: %w", err)
	}
	if !won {
		existing, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			return nil, fmt.Errorf("get question order: %w", err)
		}
		if err := json.Unmarshal(existing, &order); err != nil {
			return nil, fmt.Errorf("unmarshal question order: %w", err)
		}
		return order, nil
	}

	job, _ := json.Marshal(model.QuestionOrderJob{AttemptID: attemptID, Order: order})
	if err := s.rdb.RPush(ctx, config.WorkerKey.PersistQuestionOrderQueue, job).Err(); err != nil {
		// The Redis copy stays authoritative; persistence is best-effort.
		s.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Failed to queue question order")
	}
	return order, nil
}

// applyOrder arranges questions by order. Questions added after the order was
// frozen go last; ids that no longer exist are skipped.
func applyOrder(questions []model.Question, order []string) []model.Question {
	byID := make(map[string]model.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	out := make([]model.Question, 0, len(questions))
	for _, id := range order {
		if q, ok := byID[id]; ok {
			out = append(out, q)
			delete(byID, id)
		}
	}
	for _, q := range questions {
		if _, ok := byID[q.ID]; ok {
			out = append(out, q)
		}
	}
	return out
}

// loadAnswers reads the live answer hash, falling back to the persisted rows
// once the scoring worker has cleared it.
func (s *AttemptService) loadAnswers(ctx context.Context, attempt *model.Attempt) ([]model.AnswerSync, error) {
	if attempt.StartedAt == nil {
		return nil, nil
	}
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attempt.ID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get answers: %w", err)
	}
	if len(raw) == 0 {
		answers, err := s.attemptRepo.ListAnswers(ctx, attempt.ID)
		if err != nil {
			return nil, fmt.Errorf("list answers: %w", err)
		}
		return answers, nil
	}

	answers := make([]model.AnswerSync, 0, len(raw))
	for qid, v := range raw {
		var a model.AnswerSync
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", attempt.ID).Str("question_id", qid).Msg("Skipping malformed cached answer")
			continue
		}
		answers = append(answers, a)
	}
	return answers, nil
}

// getMeta returns the cached attempt timing, self-healing from Postgres on a miss.
func (s *AttemptService) getMeta(ctx context.Context, attemptID string) (*model.AttemptMeta, error) {
	key := config.CacheKey.AttemptMetaKey(attemptID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var meta model.AttemptMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return nil, fmt.Errorf("unmarshal attempt meta: %w", err)
		}
		return &meta, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis error getting attempt meta: %w", err)
	}

	attempt, err := s.getAttempt(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	meta := &model.AttemptMeta{
		ExamID:      attempt.ExamID,
		StartedAt:   attempt.StartedAt,
		SubmittedAt: attempt.SubmittedAt,
	}
	s.cacheMeta(ctx, attemptID, meta)
	return meta, nil
}

func (s *AttemptService) cacheMeta(ctx context.Context, attemptID string, meta *model.AttemptMeta) {
	data, _ := json.Marshal(meta)
	if err := s.rdb.Set(ctx, config.CacheKey.AttemptMetaKey(attemptID), data, metaTTL).Err(); err != nil {
		s.log.Warn().Err(err).Str("attempt_id", attemptID).Msg("Failed to cache attempt meta")
	}
}

// Start assigns the start instant once. Repeated calls return the same instant.
func (s *AttemptService) Start(ctx context.Context, attemptID string) (time.Time, error) {
	meta, err := s.getMeta(ctx, attemptID)
	if err != nil {
		return time.Time{}, err
	}
	if meta.StartedAt != nil {
		return *meta.StartedAt, nil
	}

	startedAt, err := s.attemptRepo.MarkStarted(ctx, attemptID, s.now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, ErrAttemptNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("mark started: %w", err)
	}

	meta.StartedAt = &startedAt
	s.cacheMeta(ctx, attemptID, meta)
	s.publish(ctx, meta.ExamID, model.MonitorEvent{
		Type:      model.MonitorEventStarted,
		AttemptID: attemptID,
		At:        startedAt,
	})

	s.log.Info().Str("attempt_id", attemptID).Time("started_at", startedAt).Msg("Attempt started")
	return startedAt, nil
}

// writable verifies the attempt accepts writes and returns its exam payload.
func (s *AttemptService) writable(ctx context.Context, attemptID string) (*model.AttemptMeta, *model.ExamPayload, error) {
	meta, err := s.getMeta(ctx, attemptID)
	if err != nil {
		return nil, nil, err
	}
	if meta.StartedAt == nil {
		return nil, nil, ErrAttemptNotStarted
	}
	if meta.SubmittedAt != nil {
		return nil, nil, ErrAttemptSubmitted
	}
	payload, err := s.examService.GetExamPayload(ctx, meta.ExamID)
	if err != nil {
		return nil, nil, err
	}
	deadline := meta.StartedAt.Add(time.Duration(payload.DurationMinutes) * time.Minute)
	if s.now().After(deadline.Add(lateWriteGrace)) {
		return nil, nil, ErrAttemptExpired
	}
	return meta, payload, nil
}

// SaveAnswer stores an answer write in the live hash and queues it for persistence.
func (s *AttemptService) SaveAnswer(ctx context.Context, attemptID string, answer model.AnswerSync) error {
	_, payload, err := s.writable(ctx, attemptID)
	if err != nil {
		return err
	}

	var question *model.Question
	for i := range payload.Questions {
		if payload.Questions[i].ID == answer.QuestionID {
			question = &payload.Questions[i]
			break
		}
	}
	if question == nil {
		return ErrQuestionNotInExam
	}
	if err := checkAnswerShape(question, &answer); err != nil {
		return err
	}

	data, err := json.Marshal(answer)
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	job, err := json.Marshal(model.AnswerJob{AttemptID: attemptID, Answer: answer, SavedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal answer job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, config.CacheKey.AttemptAnswersKey(attemptID), answer.QuestionID, data)
	pipe.RPush(ctx, config.WorkerKey.PersistAnswersQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// checkAnswerShape enforces that the populated field matches the question
// type. An empty value clears the answer.
func checkAnswerShape(q *model.Question, a *model.AnswerSync) error {
	if (a.SelectedOptionID == nil) == (a.TextAnswer == nil) {
		return ErrInvalidAnswer
	}
	if q.Type.SelectsOption() {
		if a.SelectedOptionID == nil {
			return ErrInvalidAnswer
		}
		if *a.SelectedOptionID != "" && !q.HasOption(*a.SelectedOptionID) {
			return ErrInvalidAnswer
		}
		return nil
	}
	if a.TextAnswer == nil || model.TextAnswerTooLong(*a.TextAnswer) {
		return ErrInvalidAnswer
	}
	if q.Type == model.QuestionTypeNumerical && *a.TextAnswer != "" {
		if _, err := model.ParseNumeric(*a.TextAnswer); err != nil {
			return ErrInvalidAnswer
		}
	}
	return nil
}

// ReportViolation records an integrity breach for the proctoring trail.
// It returns the server-side count.
func (s *AttemptService) ReportViolation(ctx context.Context, attemptID string, reason model.ViolationReason, count int) (int, error) {
	meta, err := s.getMeta(ctx, attemptID)
	if err != nil {
		return 0, err
	}
	if meta.StartedAt == nil {
		return 0, ErrAttemptNotStarted
	}
	if meta.SubmittedAt != nil {
		return 0, ErrAttemptSubmitted
	}

	now := s.now().UTC()
	job, err := json.Marshal(model.ViolationJob{AttemptID: attemptID, Reason: reason, RecordedAt: now})
	if err != nil {
		return 0, fmt.Errorf("marshal violation job: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	incr := pipe.Incr(ctx, config.CacheKey.AttemptViolationsKey(attemptID))
	pipe.Expire(ctx, config.CacheKey.AttemptViolationsKey(attemptID), metaTTL)
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, job)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record violation: %w", err)
	}

	total := int(incr.Val())
	if count > total {
		// The client counted breaches the server never heard about.
		total = count
	}

	s.log.Info().
		Str("attempt_id", attemptID).
		Str("reason", string(reason)).
		Int("count", total).
		Msg("Violation recorded")
	s.publish(ctx, meta.ExamID, model.MonitorEvent{
		Type:      model.MonitorEventViolation,
		AttemptID: attemptID,
		Reason:    string(reason),
		Count:     total,
		At:        now,
	})
	return total, nil
}

// Submit finalises the attempt. It is idempotent: a repeat returns the
// original instant with AlreadySubmitted set.
func (s *AttemptService) Submit(ctx context.Context, attemptID string) (*model.SubmitResponse, error) {
	meta, err := s.getMeta(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if meta.StartedAt == nil {
		return nil, ErrAttemptNotStarted
	}
	if meta.SubmittedAt != nil {
		return &model.SubmitResponse{SubmittedAt: *meta.SubmittedAt, AlreadySubmitted: true}, nil
	}

	submittedAt, already, err := s.attemptRepo.MarkSubmitted(ctx, attemptID, s.now().UTC())
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark submitted: %w", err)
	}

	meta.SubmittedAt = &submittedAt
	s.cacheMeta(ctx, attemptID, meta)
	if already {
		return &model.SubmitResponse{SubmittedAt: submittedAt, AlreadySubmitted: true}, nil
	}

	job, _ := json.Marshal(model.ScoreJob{AttemptID: attemptID, ExamID: meta.ExamID})
	if err := s.rdb.RPush(ctx, config.WorkerKey.ScoreAttemptsQueue, job).Err(); err != nil {
		// The row is submitted; the sweeper re-queues attempts left unscored.
		s.log.Error().Err(err).Str("attempt_id", attemptID).Msg("Failed to queue scoring")
	}
	s.publish(ctx, meta.ExamID, model.MonitorEvent{
		Type:      model.MonitorEventSubmitted,
		AttemptID: attemptID,
		At:        submittedAt,
	})

	s.log.Info().Str("attempt_id", attemptID).Time("submitted_at", submittedAt).Msg("Attempt submitted")
	return &model.SubmitResponse{SubmittedAt: submittedAt}, nil
}

// Results returns the scored outcome of a submitted attempt.
func (s *AttemptService) Results(ctx context.Context, attemptID string) (*model.ResultResponse, error) {
	meta, err := s.getMeta(ctx, attemptID)
	if err != nil {
		return nil, err
	}
	if meta.SubmittedAt == nil {
		return nil, ErrAttemptNotSubmitted
	}
	payload, err := s.examService.GetExamPayload(ctx, meta.ExamID)
	if err != nil {
		return nil, err
	}
	if !payload.ShowResults {
		return &model.ResultResponse{Status: model.ResultStatusWithheld}, nil
	}

	res, err := s.resultRepo.GetByAttempt(ctx, attemptID)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.ResultResponse{Status: model.ResultStatusEvaluating}, ErrResultPending
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return &model.ResultResponse{Status: model.ResultStatusReady, Result: res}, nil
}

// SubmitExpired force-submits attempts whose deadline plus grace has passed.
// Returns the number submitted.
func (s *AttemptService) SubmitExpired(ctx context.Context, grace time.Duration) (int, error) {
	expired, err := s.attemptRepo.ListExpired(ctx, s.now().UTC(), grace)
	if err != nil {
		return 0, fmt.Errorf("list expired: %w", err)
	}

	submitted := 0
	for _, a := range expired {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.Submit(ctx, a.ID); err != nil {
			s.log.Warn().Err(err).Str("attempt_id", a.ID).Msg("Failed to submit expired attempt")
			continue
		}
		submitted++
	}
	return submitted, nil
}

// publish is best-effort: a proctor feed that misses an event catches up on refresh.
func (s *AttemptService) publish(ctx context.Context, examID string, ev model.MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ExamMonitorChannel(examID), data).Err(); err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Failed to publish monitor event")
	}
}

// RequeueUnscored re-queues submitted attempts that were never scored, for
// instance because the queue push after submit failed.
func (s *AttemptService) RequeueUnscored(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := s.attemptRepo.ListUnscored(ctx, s.now().UTC().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("list unscored: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	pipe := s.rdb.Pipeline()
	for _, a := range pending {
		job, _ := json.Marshal(model.ScoreJob{AttemptID: a.ID, ExamID: a.ExamID})
		pipe.RPush(ctx, config.WorkerKey.ScoreAttemptsQueue, job)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("requeue scoring: %w", err)
	}
	return len(pending), nil
}
