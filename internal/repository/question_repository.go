package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-engine/internal/model"
)

// QuestionRepository handles question data access. Rows carry the grading
// key and must be stripped before leaving the server.
type QuestionRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionRepository creates a new QuestionRepository.
func NewQuestionRepository(pool *pgxpool.Pool) *QuestionRepository {
	return &QuestionRepository{pool: pool}
}

// ListByExam retrieves all questions for a given exam, ordered by order_num.
func (r *QuestionRepository) ListByExam(ctx context.Context, examID string) ([]model.QuestionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id::text, exam_id::text, section_id, question_text, question_type, options,
		        accepted_answers, numeric_tolerance, marks, negative_marks, order_num
		 FROM questions WHERE exam_id = $1::uuid
		 ORDER BY order_num, id`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.QuestionRecord
	for rows.Next() {
		var q model.QuestionRecord
		if err := rows.Scan(&q.ID, &q.ExamID, &q.SectionID, &q.Text, &q.Type, &q.Options,
			&q.AcceptedAnswers, &q.NumericTolerance, &q.Marks, &q.NegativeMarks, &q.OrderNum); err != nil {
			return nil, err
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts a new question.
func (r *QuestionRepository) Create(ctx context.Context, q *model.QuestionRecord) error {
	if q.Options == nil {
		q.Options = []model.OptionKey{}
	}
	if q.AcceptedAnswers == nil {
		q.AcceptedAnswers = []string{}
	}
	return r.pool.QueryRow(ctx,
		`INSERT INTO questions (exam_id, section_id, question_text, question_type, options,
		                        accepted_answers, numeric_tolerance, marks, negative_marks, order_num)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id::text`,
		q.ExamID, q.SectionID, q.Text, q.Type, q.Options,
		q.AcceptedAnswers, q.NumericTolerance, q.Marks, q.NegativeMarks, q.OrderNum,
	).Scan(&q.ID)
}
