// Package cache implements the Agent Service Base's multi-tier semantic
// cache (spec.md §4.2): L1 in-process, L2 Redis, L3 SQLite, with
// promotion-on-hit, write-through-on-miss, and pattern invalidation.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Tier identifies which medium served or should serve an entry.
type Tier string

const (
	TierL1 Tier = "L1"
	TierL2 Tier = "L2"
	TierL3 Tier = "L3"
)

// Entry is the CacheEntry data model from spec.md §3.
type Entry struct {
	Fingerprint  string    `json:"fingerprint"`
	Value        []byte    `json:"value"`
	StoredAt     time.Time `json:"stored_at"`
	Tier         Tier      `json:"tier"`
	TTL          time.Duration `json:"ttl_ms"`
	AccessCount  int       `json:"access_count"`
	LastAccessAt time.Time `json:"last_access_at"`
	Confidence   float64   `json:"confidence"`
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.StoredAt) > e.TTL
}

// l2Store and l3Store abstract the backing tiers so cache.go never imports
// go-redis/modernc.org/sqlite directly; see l2.go and l3.go for the
// concrete adapters and test doubles.
type l2Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, fingerprint string) error
}

type l3Store interface {
	Get(ctx context.Context, fingerprint string) (*Entry, error)
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, fingerprint string) error
}

// Tiers bundles the three cache mediums plus their default TTLs, matching
// spec.md §4.2's tier table.
type Tiers struct {
	L1TTL time.Duration
	L2TTL time.Duration
	L3TTL time.Duration

	L1Capacity int
	L1Shards   int
	LFUWeight  float64
}

// Cache is one agent's tiered semantic cache. Ownership is per-agent
// (spec.md §3 "Ownership: each Agent exclusively owns its cache tiers").
type Cache struct {
	tiers  Tiers
	l1     *l1Store
	l2     l2Store
	l3     l3Store
	logger *slog.Logger

	hitsMu sync.Mutex
	hits   map[Tier]int64
	misses int64
}

// New builds a Cache. l2/l3 may be nil to run L1-only (e.g. a demo agent
// without Redis/SQLite wired).
func New(tiers Tiers, l2 l2Store, l3 l3Store) *Cache {
	if tiers.L1Shards <= 0 {
		tiers.L1Shards = 32
	}
	if tiers.L1Capacity <= 0 {
		tiers.L1Capacity = 1000
	}
	if tiers.LFUWeight <= 0 {
		tiers.LFUWeight = 0.3
	}
	return &Cache{
		tiers:  tiers,
		l1:     newL1Store(tiers.L1Shards, tiers.L1Capacity, tiers.LFUWeight),
		l2:     l2,
		l3:     l3,
		logger: slog.Default(),
		hits:   make(map[Tier]int64),
	}
}

// Lookup reads L1 → L2 → L3 in order, promoting a lower-tier hit upward
// without extending it past the destination tier's own TTL (spec.md §3).
func (c *Cache) Lookup(ctx context.Context, fingerprint string) (*Entry, bool) {
	now := time.Now()

	if e, ok := c.l1.get(fingerprint); ok && !e.expired(now) {
		c.recordHit(TierL1)
		return e, true
	}

	if c.l2 != nil {
		if e, err := c.l2.Get(ctx, fingerprint); err == nil && e != nil && !e.expired(now) {
			c.recordHit(TierL2)
			c.promote(e, TierL1)
			return e, true
		}
	}

	if c.l3 != nil {
		if e, err := c.l3.Get(ctx, fingerprint); err == nil && e != nil && !e.expired(now) {
			c.recordHit(TierL3)
			c.promote(e, TierL1)
			if c.l2 != nil {
				promoted := *e
				promoted.StoredAt = now
				promoted.Tier = TierL2
				promoted.TTL = minDuration(e.TTL, c.tiers.L2TTL)
				if err := c.l2.Put(ctx, promoted); err != nil {
					c.logger.Warn("cache: L3->L2 promotion failed", "fingerprint", fingerprint, "error", err)
				}
			}
			return e, true
		}
	}

	c.hitsMu.Lock()
	c.misses++
	c.hitsMu.Unlock()
	return nil, false
}

// promote rewrites an entry's stored_at into the faster tier, clamping its
// TTL to that tier's own ceiling.
func (c *Cache) promote(e *Entry, dest Tier) {
	promoted := *e
	promoted.StoredAt = time.Now()
	promoted.Tier = dest
	switch dest {
	case TierL1:
		promoted.TTL = minDuration(e.TTL, c.tiers.L1TTL)
		c.l1.put(promoted)
	}
}

// Put write-throughs a fresh value to every configured tier on a handler
// success (spec.md §4.2 "write-through to all tiers").
func (c *Cache) Put(ctx context.Context, fingerprint string, value []byte, confidence float64) {
	now := time.Now()

	l1e := Entry{Fingerprint: fingerprint, Value: value, StoredAt: now, Tier: TierL1, TTL: c.tiers.L1TTL, Confidence: confidence}
	c.l1.put(l1e)

	if c.l2 != nil {
		e := l1e
		e.Tier = TierL2
		e.TTL = c.tiers.L2TTL
		if err := c.l2.Put(ctx, e); err != nil {
			c.logger.Warn("cache: L2 write-through failed", "fingerprint", fingerprint, "error", err)
		}
	}
	if c.l3 != nil {
		e := l1e
		e.Tier = TierL3
		e.TTL = c.tiers.L3TTL
		if err := c.l3.Put(ctx, e); err != nil {
			c.logger.Warn("cache: L3 write-through failed", "fingerprint", fingerprint, "error", err)
		}
	}
}

// InvalidateExact removes one fingerprint from every tier.
func (c *Cache) InvalidateExact(ctx context.Context, fingerprint string) {
	c.l1.delete(fingerprint)
	if c.l2 != nil {
		if err := c.l2.Delete(ctx, fingerprint); err != nil {
			c.logger.Warn("cache: L2 invalidate failed", "fingerprint", fingerprint, "error", err)
		}
	}
	if c.l3 != nil {
		if err := c.l3.Delete(ctx, fingerprint); err != nil {
			c.logger.Warn("cache: L3 invalidate failed", "fingerprint", fingerprint, "error", err)
		}
	}
}

// InvalidatePattern removes every fingerprint matching a glob (e.g.
// "mail:inbox:*") from all tiers. Kenny's fingerprints are opaque hashes,
// so patterns are matched against a caller-supplied key alias recorded
// alongside the fingerprint at Put time via PutWithAlias; entries written
// through Put (no alias) are never pattern-matched, only exact- or
// TTL-evicted.
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) int {
	removed := 0
	for _, fp := range c.l1.matchAliases(pattern) {
		c.InvalidateExact(ctx, fp)
		removed++
	}
	return removed
}

// PutWithAlias is Put plus a human-readable alias (e.g.
// "mail:inbox:search:unread") used only for glob pattern invalidation; the
// fingerprint itself remains the lookup key.
func (c *Cache) PutWithAlias(ctx context.Context, fingerprint, alias string, value []byte, confidence float64) {
	c.Put(ctx, fingerprint, value, confidence)
	c.l1.setAlias(fingerprint, alias)
}

func minDuration(a, b time.Duration) time.Duration {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// HitRates returns the number of hits per tier plus the overall miss count
// (raw counts, not ratios); no Prometheus metric is fed from it.
func (c *Cache) HitRates() (hits map[Tier]int64, misses int64) {
	c.hitsMu.Lock()
	defer c.hitsMu.Unlock()
	out := make(map[Tier]int64, len(c.hits))
	for k, v := range c.hits {
		out[k] = v
	}
	return out, c.misses
}

func (c *Cache) recordHit(t Tier) {
	c.hitsMu.Lock()
	c.hits[t]++
	c.hitsMu.Unlock()
}
