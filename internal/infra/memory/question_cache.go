package memory

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quizroom-service/internal/domain"
)

// QuestionLoader fetches question pools from a backing store (e.g., the
// question bank database).
type QuestionLoader interface {
	FetchBySubject(ctx context.Context, subject string) ([]domain.Question, error)
	Subjects(ctx context.Context) ([]string, error)
}

// QuestionCache caches per-subject pools with TTL to avoid repeated bank
// hits while hosts assemble rooms.
type QuestionCache struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	pools map[string]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionCache(loader QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		pools:  make(map[string]cachedPool),
	}
}

func (c *QuestionCache) FetchBySubject(ctx context.Context, subject string) ([]domain.Question, error) {
	now := c.clock()

	c.mu.RLock()
	if entry, ok := c.pools[subject]; ok && entry.expiresAt.After(now) {
		c.mu.RUnlock()
		return entry.questions, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.sf.Do(subject, func() (interface{}, error) {
		now := c.clock()
		c.mu.RLock()
		if entry, ok := c.pools[subject]; ok && entry.expiresAt.After(now) {
			c.mu.RUnlock()
			return entry.questions, nil
		}
		c.mu.RUnlock()

		pool, err := c.loader.FetchBySubject(ctx, subject)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.pools[subject] = cachedPool{
			questions: pool,
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
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

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

// StaticQuestionSource is a loader backed by an in-memory map, keyed by
// subject (useful for tests and demo deployments without a database).
type StaticQuestionSource struct {
	pools map[string][]domain.Question
}

func NewStaticQuestionSource(pools map[string][]domain.Question) *StaticQuestionSource {
	return &StaticQuestionSource{pools: pools}
}

func (s *StaticQuestionSource) FetchBySubject(_ context.Context, subject string) ([]domain.Question, error) {
	return s.pools[subject], nil
}

func (s *StaticQuestionSource) Subjects(_ context.Context) ([]string, error) {
	subjects := make([]string, 0, len(s.pools))
	for subject := range s.pools {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	return subjects, nil
}
