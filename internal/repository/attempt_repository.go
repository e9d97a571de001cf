package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// AttemptRepository handles attempt data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByID retrieves an attempt. Returns pgx.ErrNoRows when absent.
func (r *AttemptRepository) GetByID(ctx context.Context, id string) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, exam_id::text, student_ref, status, started_at, submitted_at,
		        violation_count, question_order
		 FROM attempts WHERE id = $1::uuid`, id,
	).Scan(&a.ID, &a.ExamID, &a.StudentRef, &a.Status, &a.StartedAt, &a.SubmittedAt,
		&a.ViolationCount, &a.QuestionOrder)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new attempt for a student, or returns the existing one.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (exam_id, student_ref, status)
		 VALUES ($1::uuid, $2, $3)
		 ON CONFLICT (exam_id, student_ref) DO UPDATE SET student_ref = EXCLUDED.student_ref
		 RETURNING id::text, status`,
		a.ExamID, a.StudentRef, model.AttemptStatusNotStarted,
	).Scan(&a.ID, &a.Status)
}

// MarkStarted assigns started_at once and returns the effective instant.
func (r *AttemptRepository) MarkStarted(ctx context.Context, id string, at time.Time) (time.Time, error) {
	var startedAt time.Time
	err := r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET started_at = COALESCE(started_at, $2),
		     status = CASE WHEN submitted_at IS NULL THEN $3 ELSE status END
		 WHERE id = $1::uuid
		 RETURNING started_at`,
		id, at, model.AttemptStatusActive,
	).Scan(&startedAt)
	return startedAt, err
}

// MarkSubmitted assigns submitted_at once. already reports whether the
// attempt had been submitted before this call. Concurrent callers serialise
// on the row lock, so exactly one of them sees already == false.
func (r *AttemptRepository) MarkSubmitted(ctx context.Context, id string, at time.Time) (submittedAt time.Time, already bool, err error) {
	err = r.pool.QueryRow(ctx,
		`UPDATE attempts
		 SET submitted_at = $2, status = $3
		 WHERE id = $1::uuid AND submitted_at IS NULL
		 RETURNING submitted_at`,
		id, at, model.AttemptStatusSubmitted,
	).Scan(&submittedAt)
	if err == nil {
		return submittedAt, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, err
	}

	// Either the attempt is missing or someone else submitted it first.
	var prev *time.Time
	if err := r.pool.QueryRow(ctx,
		`SELECT submitted_at FROM attempts WHERE id = $1::uuid`, id,
	).Scan(&prev); err != nil {
		return time.Time{}, false, err
	}
	if prev == nil {
		return time.Time{}, false, fmt.Errorf("attempt %s not submitted after update", id)
	}
	return *prev, true, nil
}

// ListAnswers returns the persisted answers of an attempt.
func (r *AttemptRepository) ListAnswers(ctx context.Context, id string) ([]model.AnswerSync, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT question_id::text, selected_option_id, text_answer, time_spent_seconds, is_marked_for_review
		 FROM attempt_answers WHERE attempt_id = $1::uuid`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.AnswerSync
	for rows.Next() {
		var a model.AnswerSync
		if err := rows.Scan(&a.QuestionID, &a.SelectedOptionID, &a.TextAnswer, &a.TimeSpentSeconds, &a.IsMarkedForReview); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}

// AttemptRef identifies an attempt picked up by a sweep.
type AttemptRef struct {
	ID     string
	ExamID string
}

// ListExpired returns started, unsubmitted attempts whose deadline plus
// grace lies before now.
func (r *AttemptRepository) ListExpired(ctx context.Context, now time.Time, grace time.Duration) ([]AttemptRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id::text, a.exam_id::text
		 FROM attempts a
		 JOIN exams e ON e.id = a.exam_id
		 WHERE a.submitted_at IS NULL
		   AND a.started_at IS NOT NULL
		   AND a.started_at + make_interval(mins => e.duration_minutes) + make_interval(secs => $2) < $1
		 LIMIT 500`,
		now, grace.Seconds(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRef
	for rows.Next() {
		var a AttemptRef
		if err := rows.Scan(&a.ID, &a.ExamID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListUnscored returns attempts submitted before cutoff that have no result row.
func (r *AttemptRepository) ListUnscored(ctx context.Context, cutoff time.Time) ([]AttemptRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id::text, a.exam_id::text
		 FROM attempts a
		 LEFT JOIN attempt_results res ON res.attempt_id = a.id
		 WHERE a.submitted_at IS NOT NULL
		   AND a.submitted_at < $1
		   AND res.attempt_id IS NULL
		 LIMIT 500`,
		cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AttemptRef
	for rows.Next() {
		var a AttemptRef
		if err := rows.Scan(&a.ID, &a.ExamID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
