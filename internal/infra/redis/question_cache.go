package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// QuestionLoader fetches question pools from a backing store (e.g., the
// question bank database).
type QuestionLoader interface {
	FetchBySubject(ctx context.Context, subject string) ([]domain.Question, error)
	Subjects(ctx context.Context) ([]string, error)
}

// QuestionCache caches per-subject pools in Redis (JSON blob per subject)
// and falls back to the loader on cache miss, collapsing concurrent misses
// with singleflight.
//
// Pools are stored as: SET questions:{subject}:pool {json} EX {ttl}
type QuestionCache struct {
	client *redis.Client
	loader QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) FetchBySubject(ctx context.Context, subject string) ([]domain.Question, error) {
	key := c.poolKey(subject)

	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decodePool(raw)
	}

	result, err, _ := c.sf.Do(subject, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		raw, err := c.client.Get(ctx, key).Result()
		if err == nil {
			pool, err := decodePool(raw)
			return pool, err
		}

		pool, err := c.loader.FetchBySubject(ctx, subject)
		if err != nil {
			return nil, err
		}

		encoded, err := json.Marshal(pool)
		if err != nil {
			return nil, fmt.Errorf("encode pool %s: %w", subject, err)
		}
		_ = c.client.Set(ctx, key, encoded, c.ttlWithJitter()).Err()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) Subjects(ctx context.Context) ([]string, error) {
	return c.loader.Subjects(ctx)
}

func (c *QuestionCache) poolKey(subject string) string {
	return "questions:" + subject + ":pool"
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func decodePool(raw string) ([]domain.Question, error) {
	var pool []domain.Question
	if err := json.Unmarshal([]byte(raw), &pool); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	return pool, nil
}
