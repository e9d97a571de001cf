package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
)

// Domain Errors
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNoQuestions      = errors.New("exam has no questions, cannot publish/start")
	ErrExamNotDraft     = errors.New("exam status is not DRAFT")
	ErrExamNotPublished = errors.New("exam status is not PUBLISHED")
	ErrInvalidQuestion  = errors.New("question is malformed")
)

// ExamService handles exam business logic and Redis caching.
type ExamService struct {
	examRepo     *repository.ExamRepository
	questionRepo *repository.QuestionRepository
	rdb          *redis.Client
	log          zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(
	examRepo *repository.ExamRepository,
	questionRepo *repository.QuestionRepository,
	rdb *redis.Client,
	log zerolog.Logger,
) *ExamService {
	return &ExamService{
		examRepo:     examRepo,
		questionRepo: questionRepo,
		rdb:          rdb,
		log:          log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id string) (*model.Exam, error) {
	exam, err := s.examRepo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrExamNotFound
	}
	return exam, err
}

// CreateDraft inserts an exam and its questions in DRAFT status.
func (s *ExamService) CreateDraft(ctx context.Context, exam *model.Exam, questions []model.QuestionRecord) error {
	for i := range questions {
		for j := range questions[i].Options {
			if questions[i].Options[j].ID == "" {
				questions[i].Options[j].ID = uuid.NewString()
			}
		}
		if err := validateQuestion(&questions[i]); err != nil {
			return fmt.Errorf("question %d: %w", i+1, err)
		}
	}

	exam.Status = model.ExamStatusDraft
	if err := s.examRepo.Create(ctx, exam); err != nil {
		return fmt.Errorf("create exam: %w", err)
	}
	for i := range questions {
		questions[i].ExamID = exam.ID
		if questions[i].OrderNum == 0 {
			questions[i].OrderNum = i + 1
		}
		if err := s.questionRepo.Create(ctx, &questions[i]); err != nil {
			return fmt.Errorf("create question %d: %w", i+1, err)
		}
	}
	return nil
}

// validateQuestion enforces the key shape each question type needs.
func validateQuestion(q *model.QuestionRecord) error {
	if !q.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidQuestion, q.Type)
	}
	if q.Marks < 0 || q.NegativeMarks < 0 {
		return fmt.Errorf("%w: marks must not be negative", ErrInvalidQuestion)
	}
	if q.Type.SelectsOption() {
		correct := 0
		for _, o := range q.Options {
			if o.IsCorrect {
				correct++
			}
		}
		seen := make(map[string]struct{}, len(q.Options))
		for _, o := range q.Options {
			if _, dup := seen[o.ID]; dup {
				return fmt.Errorf("%w: duplicate option id %q", ErrInvalidQuestion, o.ID)
			}
			seen[o.ID] = struct{}{}
		}
		if len(q.Options) < 2 || correct != 1 {
			return fmt.Errorf("%w: needs at least two options and exactly one correct", ErrInvalidQuestion)
		}
		return nil
	}
	if len(q.AcceptedAnswers) == 0 {
		return fmt.Errorf("%w: needs at least one accepted answer", ErrInvalidQuestion)
	}
	if q.Type == model.QuestionTypeNumerical {
		for _, a := range q.AcceptedAnswers {
			if _, err := model.ParseNumeric(a); err != nil {
				return fmt.Errorf("%w: accepted answer %q is not numeric", ErrInvalidQuestion, a)
			}
		}
	}
	return nil
}

// Publish moves a DRAFT exam to PUBLISHED and warms its cache.
func (s *ExamService) Publish(ctx context.Context, examID string) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusDraft {
		return ErrExamNotDraft
	}

	exam.Status = model.ExamStatusPublished
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}
	if err := s.examRepo.UpdateStatus(ctx, examID, model.ExamStatusPublished); err != nil {
		return fmt.Errorf("update status: %w", err)
	}

	s.log.Info().Str("exam_id", examID).Msg("Exam published")
	return nil
}

// RefreshCache re-caches the payload + answer key for a published exam.
// Called when questions are updated after publish.
func (s *ExamService) RefreshCache(ctx context.Context, examID string) error {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return err
	}
	if exam.Status != model.ExamStatusPublished {
		return ErrExamNotPublished
	}

	if err := s.WarmExamCache(ctx, exam); err != nil {
		return err
	}

	s.log.Info().Str("exam_id", examID).Msg("Cache refreshed")
	return nil
}

// WarmExamCache loads an exam's payload and answer key from PostgreSQL into Redis.
// This is the core cache-warming logic used by Publish, RefreshCache, and PrewarmAllCaches.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	_, _, err := s.warm(ctx, exam)
	return err
}

func (s *ExamService) warm(ctx context.Context, exam *model.Exam) (*model.ExamPayload, []model.QuestionRecord, error) {
	questions, err := s.questionRepo.ListByExam(ctx, exam.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, nil, ErrNoQuestions
	}

	// Student-facing payload never carries correctness.
	studentQuestions := make([]model.Question, len(questions))
	for i := range questions {
		studentQuestions[i] = questions[i].ForStudent()
	}

	payload := &model.ExamPayload{
		ExamID:             exam.ID,
		Title:              exam.Title,
		DurationMinutes:    exam.DurationMinutes,
		RandomizeQuestions: exam.RandomizeQuestions,
		MaxViolations:      exam.MaxViolations,
		FullscreenRequired: exam.FullscreenRequired,
		ShowResults:        exam.ShowResults,
		Questions:          studentQuestions,
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal payload: %w", err)
	}
	keyJSON, err := json.Marshal(questions)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal answer key: %w", err)
	}

	// Cache both atomically via pipeline.
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.ExamPayloadKey(exam.ID), payloadJSON, 0)
	pipe.Set(ctx, config.CacheKey.ExamAnswerKey(exam.ID), keyJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("exam_id", exam.ID).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return payload, questions, nil
}

// PrewarmAllCaches loads all published exams into Redis on application startup.
// This prevents any lazy-loading race conditions under thundering herd traffic.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published exams: %w", err)
	}

	if len(exams) == 0 {
		s.log.Info().Msg("No published exams to prewarm")
		return nil
	}

	s.log.Info().Int("count", len(exams)).Msg("Prewarming published exams...")

	warmed := 0
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().
				Err(err).
				Str("exam_id", exams[i].ID).
				Msg("Failed to warm exam, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().
		Int("warmed", warmed).
		Int("total", len(exams)).
		Msg("Prewarming complete")
	return nil
}

// GetExamPayload returns the cached student payload, warming it from
// PostgreSQL on a miss.
func (s *ExamService) GetExamPayload(ctx context.Context, examID string) (*model.ExamPayload, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamPayloadKey(examID)).Bytes()
	if err == nil {
		var payload model.ExamPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		return &payload, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get payload: %w", err)
	}

	payload, _, err := s.warmPublished(ctx, examID)
	return payload, err
}

// GetAnswerKey returns the cached grading key, warming it on a miss.
func (s *ExamService) GetAnswerKey(ctx context.Context, examID string) ([]model.QuestionRecord, error) {
	data, err := s.rdb.Get(ctx, config.CacheKey.ExamAnswerKey(examID)).Bytes()
	if err == nil {
		var key []model.QuestionRecord
		if err := json.Unmarshal(data, &key); err != nil {
			return nil, fmt.Errorf("unmarshal answer key: %w", err)
		}
		return key, nil
	}
	if !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get answer key: %w", err)
	}

	_, key, err := s.warmPublished(ctx, examID)
	return key, err
}

func (s *ExamService) warmPublished(ctx context.Context, examID string) (*model.ExamPayload, []model.QuestionRecord, error) {
	exam, err := s.GetByID(ctx, examID)
	if err != nil {
		return nil, nil, err
	}
	// Archived exams still serve attempts that were taken while published.
	if exam.Status == model.ExamStatusDraft {
		return nil, nil, ErrExamNotPublished
	}
	s.log.Info().Str("exam_id", examID).Msg("Exam cache miss, warming from database")
	return s.warm(ctx, exam)
}
