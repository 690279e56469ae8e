package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"trivia-duel-service/internal/domain"
)

// StaticQuestionSource serves questions from an in-memory slice (tests
// and no-database demo runs).
type StaticQuestionSource struct {
	mu      sync.Mutex
	records []domain.QuestionRecord
	rnd     *rand.Rand
}

func NewStaticQuestionSource(records []domain.QuestionRecord) *StaticQuestionSource {
	return &StaticQuestionSource{
		records: records,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *StaticQuestionSource) Fetch(_ context.Context, category string, exclude map[string]struct{}, count int) ([]domain.QuestionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	eligible := make([]domain.QuestionRecord, 0, len(s.records))
	for _, rec := range s.records {
		if category != domain.CategoryMix && rec.Category != category {
			continue
		}
		if _, skip := exclude[rec.ID]; skip {
			continue
		}
		eligible = append(eligible, rec)
	}
	s.rnd.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	if len(eligible) > count {
		eligible = eligible[:count]
	}
	return eligible, nil
}
