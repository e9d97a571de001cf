package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/scoring"
)

// AnswerKeySource provides the grading key of an exam.
type AnswerKeySource interface {
	GetAnswerKey(ctx context.Context, examID string) ([]model.QuestionRecord, error)
}

// ScoringWorker grades submitted attempts and maintains exam-wide rankings.
type ScoringWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	keys AnswerKeySource
	log  zerolog.Logger
}

func NewScoringWorker(pool *pgxpool.Pool, rdb *redis.Client, keys AnswerKeySource, log zerolog.Logger) *ScoringWorker {
	return &ScoringWorker{
		pool: pool,
		rdb:  rdb,
		keys: keys,
		log:  log.With().Str("component", "scoring_worker").Logger(),
	}
}

func (w *ScoringWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ScoringWorker started")
	loop := &batchLoop[model.ScoreJob]{
		rdb:   w.rdb,
		queue: config.WorkerKey.ScoreAttemptsQueue,
		log:   w.log,
		flush: w.flush,
	}
	loop.run(ctx)
}

func (w *ScoringWorker) flush(ctx context.Context, batch []*model.ScoreJob) []*model.ScoreJob {
	var failed []*model.ScoreJob
	exams := make(map[string]struct{})
	scored := make([]*model.ScoreJob, 0, len(batch))

	for _, j := range dedupeScoreJobs(batch) {
		if err := w.scoreAttempt(ctx, j); err != nil {
			w.log.Error().Err(err).Str("attempt_id", j.AttemptID).Msg("Scoring failed, requeueing")
			failed = append(failed, j)
			continue
		}
		exams[j.ExamID] = struct{}{}
		scored = append(scored, j)
	}

	// One ranking pass per exam regardless of how many attempts landed.
	for examID := range exams {
		if err := w.rerank(ctx, examID); err != nil {
			w.log.Error().Err(err).Str("exam_id", examID).Msg("Ranking update failed")
		}
	}

	if len(scored) > 0 {
		w.finish(ctx, scored)
	}
	return failed
}

func dedupeScoreJobs(batch []*model.ScoreJob) []*model.ScoreJob {
	seen := make(map[string]struct{}, len(batch))
	out := make([]*model.ScoreJob, 0, len(batch))
	for _, j := range batch {
		if _, ok := seen[j.AttemptID]; ok {
			continue
		}
		seen[j.AttemptID] = struct{}{}
		out = append(out, j)
	}
	return out
}

// scoreAttempt grades one attempt. The live answer hash is flushed to
// PostgreSQL first so the persisted answers match the graded ones.
func (w *ScoringWorker) scoreAttempt(ctx context.Context, j *model.ScoreJob) error {
	key, err := w.keys.GetAnswerKey(ctx, j.ExamID)
	if err != nil {
		return fmt.Errorf("get answer key: %w", err)
	}

	answers, err := w.liveAnswers(ctx, j.AttemptID)
	if err != nil {
		return err
	}
	if answers == nil {
		answers, err = w.persistedAnswers(ctx, j.AttemptID)
		if err != nil {
			return err
		}
	} else {
		now := time.Now().UTC()
		for _, a := range answers {
			if err := persistAnswer(ctx, w.pool, j.AttemptID, &a, now); err != nil {
				return fmt.Errorf("flush answer %s: %w", a.QuestionID, err)
			}
		}
	}

	sum := scoring.Grade(key, answers)
	_, err = w.pool.Exec(ctx,
		`INSERT INTO attempt_results (attempt_id, exam_id, total_score, max_score, percentage,
		                              correct_count, incorrect_count, unanswered_count, evaluated_at)
		 VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, NOW())
		 ON CONFLICT (attempt_id) DO UPDATE
		 SET total_score      = EXCLUDED.total_score,
		     max_score        = EXCLUDED.max_score,
		     percentage       = EXCLUDED.percentage,
		     correct_count    = EXCLUDED.correct_count,
		     incorrect_count  = EXCLUDED.incorrect_count,
		     unanswered_count = EXCLUDED.unanswered_count,
		     evaluated_at     = EXCLUDED.evaluated_at`,
		j.AttemptID, j.ExamID, sum.TotalScore, sum.MaxScore, sum.Percentage,
		sum.Correct, sum.Incorrect, sum.Unanswered,
	)
	if err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}

	w.log.Debug().
		Str("attempt_id", j.AttemptID).
		Float64("score", sum.TotalScore).
		Float64("max", sum.MaxScore).
		Msg("Attempt scored")
	return nil
}

// liveAnswers returns nil when the hash is gone (already flushed).
func (w *ScoringWorker) liveAnswers(ctx context.Context, attemptID string) (map[string]model.AnswerSync, error) {
	raw, err := w.rdb.HGetAll(ctx, config.CacheKey.AttemptAnswersKey(attemptID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get live answers: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	answers := make(map[string]model.AnswerSync, len(raw))
	for qid, v := range raw {
		var a model.AnswerSync
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			w.log.Warn().Err(err).Str("attempt_id", attemptID).Str("question_id", qid).Msg("Skipping malformed answer")
			continue
		}
		answers[qid] = a
	}
	return answers, nil
}

func (w *ScoringWorker) persistedAnswers(ctx context.Context, attemptID string) (map[string]model.AnswerSync, error) {
	rows, err := w.pool.Query(ctx,
		`SELECT question_id::text, selected_option_id, text_answer, time_spent_seconds, is_marked_for_review
		 FROM attempt_answers WHERE attempt_id = $1::uuid`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("list answers: %w", err)
	}
	defer rows.Close()

	answers := make(map[string]model.AnswerSync)
	for rows.Next() {
		var a model.AnswerSync
		if err := rows.Scan(&a.QuestionID, &a.SelectedOptionID, &a.TextAnswer, &a.TimeSpentSeconds, &a.IsMarkedForReview); err != nil {
			return nil, err
		}
		answers[a.QuestionID] = a
	}
	return answers, rows.Err()
}

// rerank recomputes rank (1 = best, ties share) and percentile (share of
// attempts scoring strictly lower) for every result of the exam.
func (w *ScoringWorker) rerank(ctx context.Context, examID string) error {
	_, err := w.pool.Exec(ctx,
		`UPDATE attempt_results AS r
		 SET rank = t.rnk,
		     percentile = t.pct
		 FROM (
		     SELECT attempt_id,
		            RANK() OVER (ORDER BY total_score DESC) AS rnk,
		            ROUND((PERCENT_RANK() OVER (ORDER BY total_score) * 100)::numeric, 2)::float8 AS pct
		     FROM attempt_results
		     WHERE exam_id = $1::uuid
		 ) AS t
		 WHERE r.attempt_id = t.attempt_id`,
		examID,
	)
	return err
}

// finish clears the live answer hashes and notifies proctors.
func (w *ScoringWorker) finish(ctx context.Context, scored []*model.ScoreJob) {
	now := time.Now().UTC()
	pipe := w.rdb.Pipeline()
	for _, j := range scored {
		pipe.Del(ctx, config.CacheKey.AttemptAnswersKey(j.AttemptID))
		ev, _ := json.Marshal(model.MonitorEvent{Type: model.MonitorEventScored, AttemptID: j.AttemptID, At: now})
		pipe.Publish(ctx, config.CacheKey.ExamMonitorChannel(j.ExamID), ev)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Warn().Err(err).Msg("Failed to clear scored answer buffers")
	}
}
