// Package ratelimit paces upstream API calls and retries transient failures.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/time/rate"

	appErrors "github.com/noah-isme/sis-sync/pkg/errors"
)

// RateLimiter spaces requests by a fixed delay and retries transient errors
// with exponential backoff.
type RateLimiter struct {
	limiter *rate.Limiter
	config  *Config
	sleep   func(ctx context.Context, d time.Duration) error
}

// Config holds rate limiter configuration.
type Config struct {
	// APIDelay is the minimum spacing between two calls. Zero disables pacing.
	APIDelay          time.Duration
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
	MaxAttempts       int
	// Retryable decides whether an error is worth another attempt.
	Retryable func(error) bool
}

// DefaultConfig returns default rate limiter configuration.
func DefaultConfig() *Config {
	return &Config{
		APIDelay:          250 * time.Millisecond,
		BackoffBase:       time.Second,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
		MaxAttempts:       3,
		Retryable:         appErrors.IsTransient,
	}
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg *Config) *RateLimiter {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	if cfg.Retryable == nil {
		cfg.Retryable = appErrors.IsTransient
	}

	limit := rate.Inf
	if cfg.APIDelay > 0 {
		limit = rate.Every(cfg.APIDelay)
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(limit, 1),
		config:  cfg,
		sleep:   sleepContext,
	}
}

// Wait blocks until the limiter allows the next request.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// MaxAttempts reports the configured attempt ceiling.
func (r *RateLimiter) MaxAttempts() int {
	return r.config.MaxAttempts
}

// ExecuteWithRetry runs fn under the limiter, retrying retryable errors up to
// MaxAttempts times in total. The last error is returned unchanged.
func (r *RateLimiter) ExecuteWithRetry(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		if err := r.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait: %w", err)
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !r.config.Retryable(lastErr) || attempt == r.config.MaxAttempts {
			return lastErr
		}

		if err := r.sleep(ctx, r.backoff(attempt)); err != nil {
			return err
		}
	}
	return lastErr
}

func (r *RateLimiter) backoff(attempt int) time.Duration {
	wait := float64(r.config.BackoffBase) * math.Pow(r.config.BackoffMultiplier, float64(attempt-1))
	if r.config.MaxDelay > 0 {
		wait = math.Min(wait, float64(r.config.MaxDelay))
	}
	return time.Duration(wait)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
