// Package ratelimit enforces per-identity politeness delays with token
// buckets. One limiter exists per network identity (proxy), so requests
// sharing an identity are spaced out even when many workers run.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"mpharvester/internal/telemetry"
)

// Limiter manages per-identity rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration. MinDelay is the politeness
// floor between requests on one identity; DefaultBurst allows a small
// initial burst before pacing kicks in.
type Config struct {
	MinDelay     time.Duration
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.MinDelay > 0 {
		r = rate.Every(cfg.MinDelay)
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until the identity may issue its next request, respecting
// the context. The empty identity (direct connection) is paced too.
func (l *Limiter) Wait(ctx context.Context, identity string) error {
	if identity == "" {
		identity = "direct"
	}
	l.mu.Lock()
	limiter, exists := l.limiters[identity]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[identity] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObservePolitenessDelay(identity, waited)
	}
	return nil
}
