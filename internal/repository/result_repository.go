package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// ResultRepository reads scored attempts.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

// GetByAttempt returns the result of an attempt. Returns pgx.ErrNoRows until
// the scoring worker has run.
func (r *ResultRepository) GetByAttempt(ctx context.Context, attemptID string) (*model.Result, error) {
	res := &model.Result{}
	err := r.pool.QueryRow(ctx,
		`SELECT total_score, max_score, percentage, rank, percentile, evaluated_at
		 FROM attempt_results WHERE attempt_id = $1::uuid`, attemptID,
	).Scan(&res.TotalScore, &res.MaxScore, &res.Percentage, &res.Rank, &res.Percentile, &res.EvaluatedAt)
	if err != nil {
		return nil, err
	}
	return res, nil
}
