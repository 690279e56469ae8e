package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"trivia-duel-service/internal/domain"
)

// Seed wipes the question bank and inserts the given records, assigning
// ids to records that lack one. Wipe-then-insert keeps reseeding
// idempotent.
func Seed(ctx context.Context, db *bun.DB, records []domain.QuestionRecord) (int, error) {
	if _, err := db.ExecContext(ctx, `DELETE FROM questions`); err != nil {
		return 0, fmt.Errorf("clear questions: %w", err)
	}

	inserted := 0
	for _, rec := range records {
		id := rec.ID
		if id == "" {
			id = uuid.New().String()
		}
		wrong1, wrong2 := "", ""
		if len(rec.Decoys) > 0 {
			wrong1 = rec.Decoys[0]
		}
		if len(rec.Decoys) > 1 {
			wrong2 = rec.Decoys[1]
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO questions (id, question_text, correct_answer, wrong_option_1, wrong_option_2, category)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, rec.Text, rec.CorrectAnswer, wrong1, wrong2, rec.Category)
		if err != nil {
			return inserted, fmt.Errorf("insert question %q: %w", rec.Text, err)
		}
		inserted++
	}
	return inserted, nil
}
