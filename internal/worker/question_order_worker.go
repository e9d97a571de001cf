package worker

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

type QuestionOrderWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewQuestionOrderWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *QuestionOrderWorker {
	return &QuestionOrderWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "question_order_worker").Logger(),
	}
}

func (w *QuestionOrderWorker) Start(ctx context.Context) {
	w.log.Info().Msg("QuestionOrderWorker started")
	loop := &batchLoop[model.QuestionOrderJob]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistQuestionOrderQueue,
		log:   w.log,
		flush: w.flush,
	}
	loop.run(ctx)
}

func (w *QuestionOrderWorker) flush(ctx context.Context, batch []*model.QuestionOrderJob) []*model.QuestionOrderJob {
	err := w.bulkUpdate(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Msg("bulk question order update failed, using fallback")

	var failed []*model.QuestionOrderJob
	for _, j := range batch {
		if err := w.persistSingle(ctx, j); err != nil {
			w.log.Error().Err(err).Str("attempt_id", j.AttemptID).Msg("persistSingle failed, requeueing")
			failed = append(failed, j)
		}
	}
	return failed
}

// The order is frozen: an already persisted order is never replaced.
func (w *QuestionOrderWorker) bulkUpdate(ctx context.Context, batch []*model.QuestionOrderJob) error {
	ids := make([]string, 0, len(batch))
	orders := make([][]byte, 0, len(batch))
	for _, j := range batch {
		ob, err := json.Marshal(j.Order)
		if err != nil {
			return err
		}
		ids = append(ids, j.AttemptID)
		orders = append(orders, ob)
	}
	attemptIDs, err := uuidArray(ids)
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE attempts AS a
		 SET question_order = t.qo
		 FROM UNNEST($1::uuid[], $2::jsonb[]) AS t (id, qo)
		 WHERE a.id = t.id
		   AND a.question_order IS NULL`,
		attemptIDs, orders,
	)
	return err
}

func (w *QuestionOrderWorker) persistSingle(ctx context.Context, j *model.QuestionOrderJob) error {
	ob, err := json.Marshal(j.Order)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx,
		`UPDATE attempts SET question_order = $1
		 WHERE id = $2::uuid AND question_order IS NULL`,
		ob, j.AttemptID,
	)
	return err
}
