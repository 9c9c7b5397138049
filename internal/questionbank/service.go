// Package questionbank stores admin-authored questions in Postgres.
package questionbank

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/quizroom/quizroom/internal/domain"
	"github.com/quizroom/quizroom/internal/errors"
)

const defaultListLimit = 100

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

type AddRequest struct {
	Text          string
	Options       []string
	CorrectAnswer string
}

// Add validates and stores a new question.
func (s *Service) Add(ctx context.Context, req AddRequest) (*domain.BankQuestion, error) {
	if req.Text == "" {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("question text is required"))
	}
	if len(req.Options) < 2 {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("need at least 2 options, got %d", len(req.Options)))
	}
	if !lo.Contains(req.Options, req.CorrectAnswer) {
		return nil, errors.New(errors.CodeInvalidArgument, errors.WithMessagef("correct answer must be one of the options"))
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate question ID: %w", err)
	}

	q := &domain.BankQuestion{
		QuestionID:    id.String(),
		Text:          req.Text,
		Options:       req.Options,
		CorrectAnswer: req.CorrectAnswer,
		CreateTime:    time.Now(),
	}

	const stmt = `
INSERT INTO questions (question_id, question_text, options, correct_answer, create_time)
VALUES ($1, $2, $3, $4, $5);`

	if _, err := s.db.Exec(ctx, stmt, q.QuestionID, q.Text, q.Options, q.CorrectAnswer, q.CreateTime); err != nil {
		return nil, errors.New(errors.CodePersistence,
			errors.WithMessagef("insert question"),
			errors.WithCause(err))
	}

	return q, nil
}

type ListRequest struct {
	Limit int
}

// List returns questions oldest first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]domain.BankQuestion, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	const stmt = `
SELECT question_id, question_text, options, correct_answer, create_time
FROM questions
ORDER BY create_time
LIMIT $1;`

	rows, err := s.db.Query(ctx, stmt, limit)
	if err != nil {
		return nil, errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	questions, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.BankQuestion, error) {
		var q domain.BankQuestion
		if err := r.Scan(&q.QuestionID, &q.Text, &q.Options, &q.CorrectAnswer, &q.CreateTime); err != nil {
			return domain.BankQuestion{}, err
		}
		return q, nil
	})
	if err != nil {
		return nil, errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	return questions, nil
}

type DeleteRequest struct {
	QuestionID string
}

func (s *Service) Delete(ctx context.Context, req DeleteRequest) error {
	const stmt = `DELETE FROM questions WHERE question_id = $1;`

	tag, err := s.db.Exec(ctx, stmt, req.QuestionID)
	if err != nil {
		return errors.New(errors.CodePersistence, errors.WithCause(err))
	}

	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound, errors.WithMessagef("question not found: %s", req.QuestionID))
	}

	return nil
}
