package security

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes for the block-list/bypass-token store. Native TTL
// (SET ... EX / Expire) gives auto-expiry for free, matching spec.md §4.5's
// "(auto-expiry)" language directly — the same idiom wisbric-nightowl's
// RateLimiter uses for its login-attempt counters.
const (
	serviceBlockPrefix     = "security:block:service:"
	destinationBlockPrefix = "security:block:destination:"
	bypassTokenPrefix      = "security:bypass:"
)

// BlockList is the Security plane's Redis-backed block-list and
// bypass-token store. It implements registry.BlockChecker so the Registry
// can consult live blocks without importing this package.
type BlockList struct {
	redis *redis.Client
}

// NewBlockList wraps an already-configured Redis client.
func NewBlockList(client *redis.Client) *BlockList {
	return &BlockList{redis: client}
}

// BlockService installs or extends a service block for ttl (the `isolate`
// action). Re-firing extends the expiry rather than stacking, per spec.md
// §4.5: "actions are idempotent."
func (b *BlockList) BlockService(ctx context.Context, serviceID, reason string, ttl time.Duration) error {
	key := serviceBlockPrefix + serviceID
	if err := b.redis.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("block service %q: %w", serviceID, err)
	}
	return nil
}

// BlockDestination installs or extends a destination block (the `block`
// action).
func (b *BlockList) BlockDestination(ctx context.Context, destination, reason string, ttl time.Duration) error {
	key := destinationBlockPrefix + destination
	if err := b.redis.Set(ctx, key, reason, ttl).Err(); err != nil {
		return fmt.Errorf("block destination %q: %w", destination, err)
	}
	return nil
}

// UnblockService removes a service block (admin override).
func (b *BlockList) UnblockService(ctx context.Context, serviceID string) error {
	return b.redis.Del(ctx, serviceBlockPrefix+serviceID).Err()
}

// UnblockDestination removes a destination block (admin override).
func (b *BlockList) UnblockDestination(ctx context.Context, destination string) error {
	return b.redis.Del(ctx, destinationBlockPrefix+destination).Err()
}

// IsServiceBlocked implements registry.BlockChecker.
func (b *BlockList) IsServiceBlocked(serviceID string) bool {
	return b.exists(serviceBlockPrefix + serviceID)
}

// IsDestinationBlocked implements registry.BlockChecker.
func (b *BlockList) IsDestinationBlocked(destination string) bool {
	return b.exists(destinationBlockPrefix + destination)
}

// HasBypass implements registry.BlockChecker.
func (b *BlockList) HasBypass(serviceID, destination string) bool {
	return b.exists(bypassTokenPrefix + serviceID + ":" + destination)
}

func (b *BlockList) exists(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := b.redis.Exists(ctx, key).Result()
	if err != nil {
		// Fail closed on transport errors would wedge every egress decision
		// behind a degraded Redis; fail open here and let the allowlist
		// (the Registry's own static check) remain the floor.
		return false
	}
	return n > 0
}

// IssueBypassToken admin-issues a bypass token exempting service+destination
// from a block for ttl, capped at maxBypassTTL (spec.md §4.5).
func (b *BlockList) IssueBypassToken(ctx context.Context, serviceID, destination string, ttl time.Duration) (BypassToken, error) {
	if ttl <= 0 || ttl > maxBypassTTL {
		ttl = maxBypassTTL
	}
	now := time.Now()
	tok := BypassToken{ServiceID: serviceID, Destination: destination, IssuedAt: now, ExpiresAt: now.Add(ttl)}
	key := bypassTokenPrefix + serviceID + ":" + destination
	if err := b.redis.Set(ctx, key, now.Format(time.RFC3339), ttl).Err(); err != nil {
		return BypassToken{}, fmt.Errorf("issue bypass token for %q/%q: %w", serviceID, destination, err)
	}
	return tok, nil
}

// RevokeBypassToken removes an exemption before its TTL elapses.
func (b *BlockList) RevokeBypassToken(ctx context.Context, serviceID, destination string) error {
	return b.redis.Del(ctx, bypassTokenPrefix+serviceID+":"+destination).Err()
}
