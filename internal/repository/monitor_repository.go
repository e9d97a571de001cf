package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
)

// MonitorRepository provides data access for the live proctoring feed.
// It combines PostgreSQL (attempt state) and Redis (live answer counts).
type MonitorRepository struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool, rdb *redis.Client) *MonitorRepository {
	return &MonitorRepository{pool: pool, rdb: rdb}
}

// AttemptRow is one attempt as shown on the proctor feed.
type AttemptRow struct {
	AttemptID      string              `json:"attempt_id"`
	StudentRef     string              `json:"student_ref"`
	Status         model.AttemptStatus `json:"status"`
	ViolationCount int                 `json:"violation_count"`
	TotalScore     *float64            `json:"total_score,omitempty"`
}

// ListAttempts returns every attempt of an exam.
func (r *MonitorRepository) ListAttempts(ctx context.Context, examID string) ([]AttemptRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id::text, a.student_ref, a.status, a.violation_count, res.total_score
		 FROM attempts a
		 LEFT JOIN attempt_results res ON res.attempt_id = a.id
		 WHERE a.exam_id = $1::uuid
		 ORDER BY a.created_at`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRow
	for rows.Next() {
		var a AttemptRow
		if err := rows.Scan(&a.AttemptID, &a.StudentRef, &a.Status, &a.ViolationCount, &a.TotalScore); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAnsweredCounts returns the live number of answered questions for each
// active attempt, read from the Redis answer hashes.
func (r *MonitorRepository) GetAnsweredCounts(ctx context.Context, attemptIDs []string) (map[string]int64, error) {
	result := make(map[string]int64, len(attemptIDs))
	if len(attemptIDs) == 0 {
		return result, nil
	}

	pipe := r.rdb.Pipeline()
	cmds := make(map[string]*redis.IntCmd, len(attemptIDs))
	for _, id := range attemptIDs {
		cmds[id] = pipe.HLen(ctx, config.CacheKey.AttemptAnswersKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for id, cmd := range cmds {
		if n, err := cmd.Result(); err == nil && n > 0 {
			result[id] = n
		}
	}
	return result, nil
}

// GetViolationCounts returns recorded violations per attempt of an exam.
func (r *MonitorRepository) GetViolationCounts(ctx context.Context, examID string) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT v.attempt_id::text, COUNT(*)
		 FROM attempt_violations v
		 JOIN attempts a ON a.id = v.attempt_id
		 WHERE a.exam_id = $1::uuid
		 GROUP BY v.attempt_id`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var id string
		var count int64
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
