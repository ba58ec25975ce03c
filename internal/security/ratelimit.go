package security

import (
	"errors"
	"sync"
	"time"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimitConfig holds configurable rate limits for the admin surface
// (spec.md §4.5's auth throttling, distinct from the core per-provider
// limiter in internal/proxy).
type RateLimitConfig struct {
	AdminAuthPerMin   int `json:"admin_auth_per_min"`
	StatusWritesPerMin int `json:"status_writes_per_min"`
}

// rateLimitConfigDefaults returns a config with sensible defaults.
func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		AdminAuthPerMin:    20,
		StatusWritesPerMin: 30,
	}
}

// RateLimiter implements sliding window rate limiting using stdlib only.
// Each bucket tracks timestamps of recent events within its window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  RateLimitConfig
	now     func() time.Time
}

type bucket struct {
	window time.Duration
	limit  int
	events []time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
// Zero-value fields in cfg are replaced with defaults.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	defaults := rateLimitConfigDefaults()
	if cfg.AdminAuthPerMin <= 0 {
		cfg.AdminAuthPerMin = defaults.AdminAuthPerMin
	}
	if cfg.StatusWritesPerMin <= 0 {
		cfg.StatusWritesPerMin = defaults.StatusWritesPerMin
	}

	return &RateLimiter{
		config: cfg,
		now:    time.Now,
		buckets: map[string]*bucket{
			"admin_auth":    {window: time.Minute, limit: cfg.AdminAuthPerMin},
			"status_writes": {window: time.Minute, limit: cfg.StatusWritesPerMin},
		},
	}
}

// Allow checks whether an event of the given kind is allowed.
// Returns nil if allowed, ErrRateLimited if the limit is exceeded.
// kind must be one of: "admin_auth", "status_writes".
func (rl *RateLimiter) Allow(kind string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[kind]
	if !ok {
		// Unknown kind = no limit configured.
		return nil
	}

	now := rl.now()
	b.evict(now)

	if len(b.events) >= b.limit {
		return ErrRateLimited
	}

	b.events = append(b.events, now)
	return nil
}

// evict removes events outside the sliding window.
func (b *bucket) evict(now time.Time) {
	cutoff := now.Add(-b.window)
	// Find the first event within the window (events are chronologically ordered).
	i := 0
	for i < len(b.events) && b.events[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.events = b.events[i:]
	}
}
