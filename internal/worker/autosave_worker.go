package worker

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AutosaveWorker consumes persist_answers_queue and UPSERTs answers to PostgreSQL.
type AutosaveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "autosave_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AutosaveWorker started")
	loop := &batchLoop[model.AnswerJob]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistAnswersQueue,
		log:   w.log,
		flush: w.flush,
	}
	loop.run(ctx)
}

func (w *AutosaveWorker) flush(ctx context.Context, batch []*model.AnswerJob) []*model.AnswerJob {
	batch = latestAnswers(batch)
	err := w.bulkUpsert(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk upsert failed, attempting row-by-row recovery")

	var failed []*model.AnswerJob
	for _, j := range batch {
		if err := w.upsertSingle(ctx, j); err != nil {
			w.log.Error().Err(err).
				Str("attempt_id", j.AttemptID).
				Str("question_id", j.Answer.QuestionID).
				Msg("Upsert failed, requeueing")
			failed = append(failed, j)
		}
	}
	return failed
}

// latestAnswers keeps the newest write per (attempt, question). A single
// UPSERT statement cannot touch the same row twice.
func latestAnswers(batch []*model.AnswerJob) []*model.AnswerJob {
	type key struct{ attempt, question string }
	idx := make(map[key]int, len(batch))
	out := make([]*model.AnswerJob, 0, len(batch))
	for _, j := range batch {
		k := key{j.AttemptID, j.Answer.QuestionID}
		if i, ok := idx[k]; ok {
			if !j.SavedAt.Before(out[i].SavedAt) {
				out[i] = j
			}
			continue
		}
		idx[k] = len(out)
		out = append(out, j)
	}
	return out
}

// Older writes never overwrite newer ones, so requeued jobs are safe to replay.
const upsertAnswersSQL = `
	INSERT INTO attempt_answers (attempt_id, question_id, selected_option_id, text_answer,
	                             time_spent_seconds, is_marked_for_review, updated_at)
	SELECT * FROM UNNEST($1::uuid[], $2::uuid[], $3::text[], $4::text[], $5::int[], $6::bool[], $7::timestamptz[])
	ON CONFLICT (attempt_id, question_id) DO UPDATE
	SET selected_option_id   = EXCLUDED.selected_option_id,
	    text_answer          = EXCLUDED.text_answer,
	    time_spent_seconds   = EXCLUDED.time_spent_seconds,
	    is_marked_for_review = EXCLUDED.is_marked_for_review,
	    updated_at           = EXCLUDED.updated_at
	WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`

func (w *AutosaveWorker) bulkUpsert(ctx context.Context, batch []*model.AnswerJob) error {
	n := len(batch)
	attemptIDs := make([]string, 0, n)
	questionIDs := make([]string, 0, n)
	options := make([]*string, 0, n)
	texts := make([]*string, 0, n)
	spent := make([]int32, 0, n)
	marked := make([]bool, 0, n)
	savedAt := make([]time.Time, 0, n)

	for _, j := range batch {
		attemptIDs = append(attemptIDs, j.AttemptID)
		questionIDs = append(questionIDs, j.Answer.QuestionID)
		options = append(options, j.Answer.SelectedOptionID)
		texts = append(texts, j.Answer.TextAnswer)
		spent = append(spent, int32(j.Answer.TimeSpentSeconds))
		marked = append(marked, j.Answer.IsMarkedForReview)
		savedAt = append(savedAt, j.SavedAt)
	}

	attempts, err := uuidArray(attemptIDs)
	if err != nil {
		return err
	}
	questions, err := uuidArray(questionIDs)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, upsertAnswersSQL, attempts, questions, options, texts, spent, marked, savedAt)
	return err
}

func (w *AutosaveWorker) upsertSingle(ctx context.Context, j *model.AnswerJob) error {
	return persistAnswer(ctx, w.pool, j.AttemptID, &j.Answer, j.SavedAt)
}

func persistAnswer(ctx context.Context, pool *pgxpool.Pool, attemptID string, a *model.AnswerSync, savedAt time.Time) error {
	_, err := pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_id, selected_option_id, text_answer,
		                              time_spent_seconds, is_marked_for_review, updated_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7)
		 ON CONFLICT (attempt_id, question_id) DO UPDATE
		 SET selected_option_id   = EXCLUDED.selected_option_id,
		     text_answer          = EXCLUDED.text_answer,
		     time_spent_seconds   = EXCLUDED.time_spent_seconds,
		     is_marked_for_review = EXCLUDED.is_marked_for_review,
		     updated_at           = EXCLUDED.updated_at
		 WHERE attempt_answers.updated_at <= EXCLUDED.updated_at`,
		attemptID, a.QuestionID, a.SelectedOptionID, a.TextAnswer,
		a.TimeSpentSeconds, a.IsMarkedForReview, savedAt,
	)
	return err
}
