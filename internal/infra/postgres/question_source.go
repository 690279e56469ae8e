package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-duel-service/internal/domain"
)

// QuestionBank reads the question bank from Postgres. It implements
// both app.QuestionSource (random filtered draw) and the cache's
// PoolLoader (full category pool).
type QuestionBank struct {
	pool *pgxpool.Pool
}

func NewQuestionBank(pool *pgxpool.Pool) *QuestionBank {
	return &QuestionBank{pool: pool}
}

const selectColumns = `id, question_text, correct_answer, wrong_option_1, wrong_option_2, category`

func (b *QuestionBank) Fetch(ctx context.Context, category string, exclude map[string]struct{}, count int) ([]domain.QuestionRecord, error) {
	excluded := make([]string, 0, len(exclude))
	for id := range exclude {
		excluded = append(excluded, id)
	}

	rows, err := b.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM questions
		WHERE ($1 = 'Mix' OR category = $1)
		  AND NOT (id = ANY($2::text[]))
		ORDER BY random()
		LIMIT $3`,
		category, excluded, count)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (b *QuestionBank) LoadPool(ctx context.Context, category string) ([]domain.QuestionRecord, error) {
	rows, err := b.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM questions
		WHERE ($1 = 'Mix' OR category = $1)`,
		category)
	if err != nil {
		return nil, fmt.Errorf("load question pool: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

type rowScanner interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanRecords(rows rowScanner) ([]domain.QuestionRecord, error) {
	var records []domain.QuestionRecord
	for rows.Next() {
		var rec domain.QuestionRecord
		var wrong1, wrong2 string
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.CorrectAnswer, &wrong1, &wrong2, &rec.Category); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		rec.Decoys = []string{wrong1, wrong2}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read questions: %w", err)
	}
	return records, nil
}
