package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"trivia-duel-service/internal/domain"
)

type countingLoader struct {
	calls int
	pool  []domain.QuestionRecord
}

func (l *countingLoader) LoadPool(_ context.Context, _ string) ([]domain.QuestionRecord, error) {
	l.calls++
	return l.pool, nil
}

func newTestCache(t *testing.T, loader *countingLoader) (*QuestionCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewQuestionCache(client, loader, time.Minute), mr
}

func recordPool(n int) []domain.QuestionRecord {
	pool := make([]domain.QuestionRecord, n)
	for i := range pool {
		pool[i] = domain.QuestionRecord{
			ID:            fmt.Sprintf("q%d", i),
			Text:          "q",
			CorrectAnswer: "a",
			Category:      "Science",
		}
	}
	return pool
}

func TestQuestionCacheLoadsOnce(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{pool: recordPool(6)}
	cache, mr := newTestCache(t, loader)

	first, err := cache.Fetch(ctx, "Science", nil, 4)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(first) != 4 {
		t.Fatalf("expected 4 records, got %d", len(first))
	}
	if !mr.Exists("questions:pool:Science") {
		t.Fatalf("expected pool cached in redis")
	}

	if _, err := cache.Fetch(ctx, "Science", nil, 4); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected a single backing load, got %d", loader.calls)
	}
}

func TestQuestionCacheReloadsAfterExpiry(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{pool: recordPool(3)}
	cache, mr := newTestCache(t, loader)

	if _, err := cache.Fetch(ctx, "Science", nil, 3); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := cache.Fetch(ctx, "Science", nil, 3); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, got %d calls", loader.calls)
	}
}

func TestQuestionCacheHonorsExclusions(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{pool: recordPool(5)}
	cache, _ := newTestCache(t, loader)

	exclude := map[string]struct{}{"q0": {}, "q1": {}, "q2": {}}
	records, err := cache.Fetch(ctx, "Science", exclude, 10)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 unexcluded records, got %d", len(records))
	}
	for _, rec := range records {
		if _, skip := exclude[rec.ID]; skip {
			t.Fatalf("excluded record %s returned", rec.ID)
		}
	}
}
