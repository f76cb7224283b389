package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CounterStore holds one CostCounter per (key, UTC day).
type CounterStore interface {
	Incr(ctx context.Context, key, day string, n int64) (int64, error)
	Get(ctx context.Context, key, day string) (int64, error)
}

// CostStatus is the budget report for one key on the current day.
type CostStatus struct {
	Key   string `json:"key"`
	Day   string `json:"day"`
	Used  int64  `json:"used"`
	Limit int64  `json:"limit"`
	OK    bool   `json:"ok"`
	Warn  bool   `json:"warn"`
}

// CostTracker accounts tokens spent per client per day against a budget.
// The counter resets implicitly when the day key rolls over.
type CostTracker struct {
	store         CounterStore
	limit         int64
	warnThreshold float64
	auditor       Auditor
	now           func() time.Time
}

func NewCostTracker(store CounterStore, limit int64, warnThreshold float64, auditor Auditor) *CostTracker {
	return &CostTracker{
		store:         store,
		limit:         limit,
		warnThreshold: warnThreshold,
		auditor:       auditor,
		now:           time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (c *CostTracker) SetClock(now func() time.Time) {
	c.now = now
}

// Day returns the UTC day key for t.
func Day(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// AddTokens adds n to today's counter and returns the new total. Crossing the
// warn threshold or the limit is audited once, on the call that crosses it.
func (c *CostTracker) AddTokens(ctx context.Context, key string, n int64) (int64, error) {
	if n < 0 {
		return 0, fmt.Errorf("token count must be non-negative, got %d", n)
	}
	day := Day(c.now())
	used, err := c.store.Incr(ctx, key, day, n)
	if err != nil {
		return 0, fmt.Errorf("incrementing cost counter: %w", err)
	}
	if c.limit <= 0 || c.auditor == nil {
		return used, nil
	}

	prev := used - n
	warnAt := c.warnThreshold * float64(c.limit)
	if float64(prev) < warnAt && float64(used) >= warnAt {
		c.auditor.RecordBestEffort(ctx, "cost.warn", map[string]any{
			"key": key, "day": day, "used": used, "limit": c.limit,
		})
	}
	if prev < c.limit && used >= c.limit {
		c.auditor.RecordBestEffort(ctx, "cost.exceeded", map[string]any{
			"key": key, "day": day, "used": used, "limit": c.limit,
		})
	}
	return used, nil
}

// Status reports {used, limit, ok: used<limit, warn: used/limit ≥ threshold}.
// A non-positive limit means unlimited.
func (c *CostTracker) Status(ctx context.Context, key string) (CostStatus, error) {
	day := Day(c.now())
	used, err := c.store.Get(ctx, key, day)
	if err != nil {
		return CostStatus{}, fmt.Errorf("reading cost counter: %w", err)
	}
	st := CostStatus{Key: key, Day: day, Used: used, Limit: c.limit, OK: true}
	if c.limit > 0 {
		st.OK = used < c.limit
		st.Warn = float64(used)/float64(c.limit) >= c.warnThreshold
	}
	return st, nil
}

// MemoryCounterStore keeps counters in a map. Old days are dropped on write.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]int64
	days     map[string]string
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		counters: make(map[string]int64),
		days:     make(map[string]string),
	}
}

func (s *MemoryCounterStore) Incr(_ context.Context, key, day string, n int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if last, ok := s.days[key]; ok && last != day {
		delete(s.counters, key+"|"+last)
	}
	s.days[key] = day
	s.counters[key+"|"+day] += n
	return s.counters[key+"|"+day], nil
}

func (s *MemoryCounterStore) Get(_ context.Context, key, day string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters[key+"|"+day], nil
}

// RedisCounterStore keeps counters in Redis with a two-day TTL.
type RedisCounterStore struct {
	client *redis.Client
	prefix string
}

func NewRedisCounterStore(client *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{client: client, prefix: "warden:cost:"}
}

func (s *RedisCounterStore) Incr(ctx context.Context, key, day string, n int64) (int64, error) {
	k := s.prefix + key + ":" + day
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, k, n)
	pipe.Expire(ctx, k, 48*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrby %s: %w", k, err)
	}
	return incr.Val(), nil
}

func (s *RedisCounterStore) Get(ctx context.Context, key, day string) (int64, error) {
	k := s.prefix + key + ":" + day
	v, err := s.client.Get(ctx, k).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", k, err)
	}
	return v, nil
}
