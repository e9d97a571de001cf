package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ViolationWorker persists the proctoring trail reported by attempts.
type ViolationWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

func NewViolationWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ViolationWorker {
	return &ViolationWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "violation_worker").Logger(),
	}
}

func (w *ViolationWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ViolationWorker started")
	loop := &batchLoop[model.ViolationJob]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistViolationsQueue,
		log:   w.log,
		flush: w.flush,
	}
	loop.run(ctx)
}

// flush attempts a bulk COPY, then row-by-row inserts; rows that still fail are requeued.
func (w *ViolationWorker) flush(ctx context.Context, batch []*model.ViolationJob) []*model.ViolationJob {
	err := w.bulkInsert(ctx, batch)
	if err == nil {
		return nil
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var failed []*model.ViolationJob
	for _, v := range batch {
		if err := w.insertSingle(ctx, v); err != nil {
			w.log.Error().Err(err).Str("attempt_id", v.AttemptID).Msg("Insert failed, requeueing")
			failed = append(failed, v)
		}
	}
	return failed
}

func (w *ViolationWorker) bulkInsert(ctx context.Context, batch []*model.ViolationJob) error {
	rows := make([][]any, 0, len(batch))
	perAttempt := make(map[string]int32, len(batch))
	for _, v := range batch {
		attemptID, err := uuid.Parse(v.AttemptID)
		if err != nil {
			// The fallback handles the bad id individually.
			return err
		}
		rows = append(rows, []any{attemptID, string(v.Reason), v.RecordedAt})
		perAttempt[v.AttemptID]++
	}

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"attempt_violations"},
		[]string{"attempt_id", "reason", "recorded_at"},
		pgx.CopyFromRows(rows),
	); err != nil {
		return err
	}

	ids := make([]string, 0, len(perAttempt))
	counts := make([]int32, 0, len(perAttempt))
	for id, n := range perAttempt {
		ids = append(ids, id)
		counts = append(counts, n)
	}
	attemptIDs, err := uuidArray(ids)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE attempts AS a
		 SET violation_count = a.violation_count + t.n
		 FROM UNNEST($1::uuid[], $2::int[]) AS t (id, n)
		 WHERE a.id = t.id`,
		attemptIDs, counts,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (w *ViolationWorker) insertSingle(ctx context.Context, v *model.ViolationJob) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO attempt_violations (attempt_id, reason, recorded_at) VALUES ($1::uuid, $2, $3)`,
		v.AttemptID, string(v.Reason), v.RecordedAt,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE attempts SET violation_count = violation_count + 1 WHERE id = $1::uuid`,
		v.AttemptID,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
