package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"quizroom-service/internal/domain"
)

type countingLoader struct {
	mu    sync.Mutex
	calls int
	pools map[string][]domain.Question
}

func (l *countingLoader) FetchBySubject(_ context.Context, subject string) ([]domain.Question, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.pools[subject], nil
}

func (l *countingLoader) Subjects(_ context.Context) ([]string, error) {
	subjects := make([]string, 0, len(l.pools))
	for subject := range l.pools {
		subjects = append(subjects, subject)
	}
	return subjects, nil
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func newTestCache(t *testing.T, loader QuestionLoader) (*QuestionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewQuestionCache(client, loader, time.Minute), mr
}

func TestFetchBySubjectPopulatesPoolKey(t *testing.T) {
	loader := &countingLoader{pools: map[string][]domain.Question{
		"math": {{
			ID: "q1", Subject: "math", Grade: "5", Scope: domain.ScopeShared,
			Prompt:          "2+2?",
			Choices:         []domain.Choice{{ID: "c1", Text: "3"}, {ID: "c2", Text: "4"}},
			CorrectChoiceID: "c2",
		}},
	}}
	cache, mr := newTestCache(t, loader)
	ctx := context.Background()

	pool, err := cache.FetchBySubject(ctx, "math")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(pool) != 1 || pool[0].ID != "q1" {
		t.Fatalf("unexpected pool: %+v", pool)
	}
	if !mr.Exists("questions:math:pool") {
		t.Fatal("expected pool cached in redis")
	}
	if ttl := mr.TTL("questions:math:pool"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("expected jittered TTL near 1m, got %v", ttl)
	}

	// Second fetch must be served from redis, not the loader.
	if _, err := cache.FetchBySubject(ctx, "math"); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if loader.count() != 1 {
		t.Fatalf("expected a single loader hit, got %d", loader.count())
	}
}

func TestFetchBySubjectReloadsAfterExpiry(t *testing.T) {
	loader := &countingLoader{pools: map[string][]domain.Question{"math": nil}}
	cache, mr := newTestCache(t, loader)
	ctx := context.Background()

	if _, err := cache.FetchBySubject(ctx, "math"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := cache.FetchBySubject(ctx, "math"); err != nil {
		t.Fatalf("fetch after expiry: %v", err)
	}
	if loader.count() != 2 {
		t.Fatalf("expected reload after expiry, got %d loader hits", loader.count())
	}
}

func TestSubjectsDelegatesToLoader(t *testing.T) {
	loader := &countingLoader{pools: map[string][]domain.Question{"math": nil}}
	cache, _ := newTestCache(t, loader)

	subjects, err := cache.Subjects(context.Background())
	if err != nil {
		t.Fatalf("subjects: %v", err)
	}
	if len(subjects) != 1 || subjects[0] != "math" {
		t.Fatalf("unexpected subjects: %v", subjects)
	}
}
