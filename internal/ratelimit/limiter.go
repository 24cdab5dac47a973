// Package ratelimit provides per-route rate limiting for the HTTP control
// plane, to protect the store and worker pool from request bursts.
// Uses a token bucket, backed by golang.org/x/time/rate for the refill clock.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements a token bucket rate limiter. It's safe for concurrent
// use. The refill clock is delegated to golang.org/x/time/rate.Limiter;
// Stats/AllowN keep a thin wrapper on top to count allowed requests, which
// rate.Limiter does not track.
type Limiter struct {
	mu           sync.Mutex
	rl           *rate.Limiter
	maxTokens    float64
	refillRate   float64
	requestCount int64
}

// NewLimiter creates a new rate limiter.
// maxTokens: maximum burst size
// refillRate: tokens replenished per second
func NewLimiter(maxTokens float64, refillRate float64) *Limiter {
	return &Limiter{
		rl:         rate.NewLimiter(rate.Limit(refillRate), int(maxTokens)),
		maxTokens:  maxTokens,
		refillRate: refillRate,
	}
}

// Allow checks if an action is allowed and consumes a token if so.
// Returns true if the action is allowed, false if rate limited.
func (l *Limiter) Allow() bool {
	return l.AllowN(1)
}

// AllowN checks if n actions are allowed and consumes n tokens if so.
func (l *Limiter) AllowN(n float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.rl.AllowN(time.Now(), int(n)) {
		return false
	}
	l.requestCount++
	return true
}

// Wait blocks until a token is available.
func (l *Limiter) Wait() {
	for !l.Allow() {
		time.Sleep(100 * time.Millisecond)
	}
}

// Reset resets the limiter to full tokens.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rl = rate.NewLimiter(rate.Limit(l.refillRate), int(l.maxTokens))
}

// Stats returns current limiter statistics: remaining tokens (approximate,
// sampled via TokensAt(now)) and the lifetime request count.
func (l *Limiter) Stats() (tokens float64, requestCount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rl.TokensAt(time.Now()), l.requestCount
}

// PerEndpointLimiter manages rate limits for multiple endpoints. Kept as the
// teacher's map-of-limiters shape since x/time/rate has no multi-key
// variant — one bucket per route key, created lazily on first use.
type PerEndpointLimiter struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	config   LimiterConfig
}

// LimiterConfig defines rate limit configuration.
type LimiterConfig struct {
	MaxTokens  float64
	RefillRate float64
}

// DefaultConfig allows 10 requests with 2 refills per second — read routes.
func DefaultConfig() LimiterConfig {
	return LimiterConfig{
		MaxTokens:  10,
		RefillRate: 2,
	}
}

// StrictConfig is for mutating routes: enqueue, pause, resume, retry, delete.
func StrictConfig() LimiterConfig {
	return LimiterConfig{
		MaxTokens:  5,
		RefillRate: 1,
	}
}

// NewPerEndpointLimiter creates a new per-endpoint rate limiter.
func NewPerEndpointLimiter(config LimiterConfig) *PerEndpointLimiter {
	return &PerEndpointLimiter{
		limiters: make(map[string]*Limiter),
		config:   config,
	}
}

// Allow checks if an action on the given endpoint is allowed.
func (p *PerEndpointLimiter) Allow(endpoint string) bool {
	p.mu.RLock()
	limiter, exists := p.limiters[endpoint]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		if limiter, exists = p.limiters[endpoint]; !exists {
			limiter = NewLimiter(p.config.MaxTokens, p.config.RefillRate)
			p.limiters[endpoint] = limiter
		}
		p.mu.Unlock()
	}

	return limiter.Allow()
}

// Global rate limiters for the control plane's mutating routes.
var (
	// EnqueueLimiter limits POST /download and the catch-all enqueue route.
	EnqueueLimiter = NewPerEndpointLimiter(StrictConfig())

	// JobControlLimiter limits pause/resume/retry/delete and the legacy
	// POST /delete. Each route has one bucket shared by all job ids.
	JobControlLimiter = NewPerEndpointLimiter(StrictConfig())

	// QueryLimiter limits the read-only listing/status routes.
	QueryLimiter = NewPerEndpointLimiter(DefaultConfig())
)
