package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"trivia-duel-service/internal/domain"
)

// PoolLoader fetches the full question pool for a category from the
// backing store.
type PoolLoader interface {
	LoadPool(ctx context.Context, category string) ([]domain.QuestionRecord, error)
}

// QuestionCache caches per-category question pools as JSON
// (`questions:pool:{category}`) and falls back to the loader on a miss.
// singleflight keeps a cold category from stampeding the database, and
// the TTL carries jitter so categories do not all expire together.
type QuestionCache struct {
	client *redis.Client
	loader PoolLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader PoolLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func poolKey(category string) string {
	return "questions:pool:" + category
}

// Fetch implements app.QuestionSource on top of the cached pool: filter
// the exclusion set out, shuffle, take count.
func (c *QuestionCache) Fetch(ctx context.Context, category string, exclude map[string]struct{}, count int) ([]domain.QuestionRecord, error) {
	pool, err := c.pool(ctx, category)
	if err != nil {
		return nil, err
	}

	eligible := make([]domain.QuestionRecord, 0, len(pool))
	for _, rec := range pool {
		if _, skip := exclude[rec.ID]; skip {
			continue
		}
		eligible = append(eligible, rec)
	}

	c.mu.Lock()
	c.rnd.Shuffle(len(eligible), func(i, j int) {
		eligible[i], eligible[j] = eligible[j], eligible[i]
	})
	c.mu.Unlock()

	if len(eligible) > count {
		eligible = eligible[:count]
	}
	return eligible, nil
}

func (c *QuestionCache) pool(ctx context.Context, category string) ([]domain.QuestionRecord, error) {
	key := poolKey(category)
	if pool, ok := c.cached(ctx, key); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(category, func() (interface{}, error) {
		// Re-check in case another goroutine filled the cache.
		if pool, ok := c.cached(ctx, key); ok {
			return pool, nil
		}
		pool, err := c.loader.LoadPool(ctx, category)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(pool)
		if err != nil {
			return nil, fmt.Errorf("marshal pool: %w", err)
		}
		_ = c.client.Set(ctx, key, data, c.ttlWithJitter()).Err()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuestionRecord), nil
}

func (c *QuestionCache) cached(ctx context.Context, key string) ([]domain.QuestionRecord, bool) {
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		return nil, false
	}
	var pool []domain.QuestionRecord
	if err := json.Unmarshal([]byte(raw), &pool); err != nil {
		return nil, false
	}
	return pool, len(pool) > 0
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
