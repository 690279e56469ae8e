package app

import (
	"math/rand"

	"trivia-duel-service/internal/domain"
)

// FormatQuestion turns a raw bank record into a playable question. The
// option order is shuffled here, once, and then stays fixed so both
// players see the same layout.
func FormatQuestion(rec domain.QuestionRecord, rnd *rand.Rand) domain.Question {
	options := make([]string, 0, len(rec.Decoys)+1)
	options = append(options, rec.CorrectAnswer)
	for _, d := range rec.Decoys {
		if d != "" {
			options = append(options, d)
		}
	}
	rnd.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	return domain.Question{
		ID:            rec.ID,
		Text:          rec.Text,
		Options:       options,
		CorrectAnswer: rec.CorrectAnswer,
		Category:      rec.Category,
	}
}

// BuildRounds shuffles the pool once and partitions it into rounds of
// questionsPerRound contiguous questions each, numbered from 1. The
// pool must hold exactly rounds*questionsPerRound questions; a short
// pool fails with domain.ErrNotEnoughQuestions before any round is
// built.
func BuildRounds(rnd *rand.Rand, pool []domain.Question, rounds, questionsPerRound int) ([]domain.Round, error) {
	total := rounds * questionsPerRound
	if len(pool) < total {
		return nil, domain.ErrNotEnoughQuestions
	}

	shuffled := make([]domain.Question, len(pool))
	copy(shuffled, pool)
	rnd.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	built := make([]domain.Round, rounds)
	for i := 0; i < rounds; i++ {
		built[i] = domain.Round{
			Number:    i + 1,
			Category:  domain.CategoryMix,
			Questions: shuffled[i*questionsPerRound : (i+1)*questionsPerRound],
		}
	}
	return built, nil
}
