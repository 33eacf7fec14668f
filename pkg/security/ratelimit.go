package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter installs and checks a per-service token bucket for the
// `rate_limit` action (spec.md §4.5 "Install a token bucket for this
// service (rate, burst configured)"). A Redis counter with a TTL, like
// wisbric-nightowl's login RateLimiter, here seeded to the burst with
// SET ... EX and decremented with DECR per call.
type RateLimiter struct {
	redis *redis.Client
}

// NewRateLimiter wraps an already-configured Redis client.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{redis: client}
}

func rateLimitKey(serviceID string) string {
	return "security:ratelimit:" + serviceID
}

// Install configures a token bucket for serviceID: burst requests per
// window. Re-firing (idempotent per spec.md §4.5) resets the window.
func (r *RateLimiter) Install(ctx context.Context, serviceID string, burst int, window time.Duration) error {
	key := rateLimitKey(serviceID)
	pipe := r.redis.TxPipeline()
	pipe.Set(ctx, key, burst, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("install rate limit for %q: %w", serviceID, err)
	}
	return nil
}

// Allow decrements the bucket for serviceID and reports whether the call is
// allowed. A service with no installed bucket is always allowed.
//
// DECR auto-creates a missing integer key at 0 before decrementing, so a
// plain DECR can't tell "no bucket installed" from "bucket just hit zero" —
// Exists is checked first.
func (r *RateLimiter) Allow(ctx context.Context, serviceID string) (bool, error) {
	key := rateLimitKey(serviceID)
	n, err := r.redis.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check rate limit for %q: %w", serviceID, err)
	}
	if n == 0 {
		return true, nil
	}
	remaining, err := r.redis.Decr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check rate limit for %q: %w", serviceID, err)
	}
	if remaining < 0 {
		// Bucket exhausted for the window; put the floor back so the next
		// caller's Decr also reports exhausted rather than drifting further
		// negative across concurrent callers.
		r.redis.Set(ctx, key, 0, redis.KeepTTL)
		return false, nil
	}
	return true, nil
}

// Remove clears a service's installed bucket (admin override / incident
// resolution).
func (r *RateLimiter) Remove(ctx context.Context, serviceID string) error {
	return r.redis.Del(ctx, rateLimitKey(serviceID)).Err()
}
