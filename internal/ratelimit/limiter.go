// Package ratelimit throttles the authorization flow per client.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/brizzai/token-relay/internal/config"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// idleExpiry drops buckets of clients that stopped sending requests
const idleExpiry = 10 * time.Minute

// RateLimitInfo captures limiter response metadata.
type RateLimitInfo struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Limiter defines common interface.
type Limiter interface {
	Allow(ctx context.Context, key string) (RateLimitInfo, error)
}

// MemoryLimiter keeps a token bucket per key, refilled at limit per minute.
type MemoryLimiter struct {
	limit   int
	burst   int
	buckets *cache.Cache
	mu      sync.Mutex
	now     func() time.Time
}

// NewMemoryLimiter builds a limiter allowing limit requests per minute with the given burst.
// Non-positive values are raised to 1.
func NewMemoryLimiter(limit, burst int) *MemoryLimiter {
	if limit <= 0 {
		limit = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &MemoryLimiter{
		limit:   limit,
		burst:   burst,
		buckets: cache.New(idleExpiry, idleExpiry),
		now:     time.Now,
	}
}

// Allow implements limiter.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (RateLimitInfo, error) {
	now := m.now()
	b := m.bucket(key)

	info := RateLimitInfo{Limit: m.limit, Reset: now.Add(time.Minute)}
	if b.AllowN(now, 1) {
		info.Allowed = true
		info.Remaining = int(b.TokensAt(now))
		return info, nil
	}

	// Time until the next token becomes available
	missing := 1 - b.TokensAt(now)
	info.Reset = now.Add(time.Duration(missing / float64(b.Limit()) * float64(time.Second)))
	return info, nil
}

func (m *MemoryLimiter) bucket(key string) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.buckets.Get(key); ok {
		m.buckets.SetDefault(key, b)
		return b.(*rate.Limiter)
	}
	b := rate.NewLimiter(rate.Limit(float64(m.limit)/60), m.burst)
	m.buckets.SetDefault(key, b)
	return b
}

// NewLimiter returns the limiter for cfg, or nil when rate limiting is disabled
func NewLimiter(cfg *config.RateLimitConfig) Limiter {
	if !cfg.Enabled {
		return nil
	}
	return NewMemoryLimiter(cfg.RequestsPerMinute, cfg.Burst)
}
