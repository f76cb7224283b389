package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is the RateBucket for one (key, kind) pair.
type bucket struct {
	tokens       float64
	lastRefillAt time.Time
	period       time.Duration
	depleted     bool
}

// MemoryLimiter implements Limiter with an in-memory token bucket per
// (key, kind). A background goroutine evicts idle buckets; an evicted
// bucket would have refilled to full anyway.
type MemoryLimiter struct {
	rules Rules
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket

	stopOnce sync.Once
	done     chan struct{}
}

type MemoryOption func(*MemoryLimiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryLimiter) { m.now = now }
}

func NewMemoryLimiter(rules Rules, opts ...MemoryOption) *MemoryLimiter {
	m := &MemoryLimiter{
		rules:   rules,
		now:     time.Now,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	go m.cleanup()
	return m
}

func bucketKey(key, kind string) string {
	return kind + "|" + key
}

func (m *MemoryLimiter) CheckRate(_ context.Context, key, kind string) (bool, error) {
	rule := m.rules.For(kind)
	if rule.Limit <= 0 {
		return true, nil
	}
	limit := float64(rule.Limit)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	b, ok := m.buckets[bucketKey(key, kind)]
	if !ok {
		b = &bucket{tokens: limit, lastRefillAt: now, period: rule.Period}
		m.buckets[bucketKey(key, kind)] = b
	}

	elapsed := now.Sub(b.lastRefillAt).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * rule.Rate()
		if b.tokens > limit {
			b.tokens = limit
		}
		b.lastRefillAt = now
	}

	if b.tokens < 1 {
		b.depleted = true
		return false, nil
	}
	b.tokens--
	b.depleted = false
	return true, nil
}

// Tokens reports the current token count for a bucket without consuming.
// Returns the full limit for buckets never used.
func (m *MemoryLimiter) Tokens(key, kind string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.buckets[bucketKey(key, kind)]; ok {
		return b.tokens
	}
	return float64(m.rules.For(kind).Limit)
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, b := range m.buckets {
		// Past max(period, staleThreshold) the bucket is full again.
		if now.Sub(b.lastRefillAt) > max(b.period, staleThreshold) {
			delete(m.buckets, key)
		}
	}
}
