package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l3, err := OpenSQLiteL3Store(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l3.Close() })

	c := New(Tiers{L1TTL: 30 * time.Second, L2TTL: 5 * time.Minute, L3TTL: time.Hour}, NewRedisL2Store(client), l3)
	return c, mr
}

func TestCache_PutThenLookupHitsL1(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "fp-1", []byte("hello"), 0.9)
	e, ok := c.Lookup(ctx, "fp-1")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), e.Value)
	assert.Equal(t, TierL1, e.Tier)
}

func TestCache_LookupMissesOnUnknownFingerprint(t *testing.T) {
	c, _ := newTestCache(t)
	_, ok := c.Lookup(context.Background(), "nonexistent")
	assert.False(t, ok)
}

func TestCache_L2HitPromotesToL1(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.l2.Put(ctx, Entry{Fingerprint: "fp-2", Value: []byte("from-l2"), StoredAt: time.Now(), TTL: time.Minute}))

	e, ok := c.Lookup(ctx, "fp-2")
	require.True(t, ok)
	assert.Equal(t, []byte("from-l2"), e.Value)

	l1e, ok := c.l1.get("fp-2")
	require.True(t, ok, "L2 hit should promote into L1")
	assert.Equal(t, TierL1, l1e.Tier)
}

func TestCache_InvalidateExactRemovesFromAllTiers(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.Put(ctx, "fp-3", []byte("v"), 1.0)
	c.InvalidateExact(ctx, "fp-3")

	_, ok := c.Lookup(ctx, "fp-3")
	assert.False(t, ok)
}

func TestCache_InvalidatePatternMatchesAliasedEntriesOnly(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	c.PutWithAlias(ctx, "fp-4", "mail:inbox:search", []byte("v"), 1.0)
	c.Put(ctx, "fp-5", []byte("v2"), 1.0) // no alias, never pattern-matched

	removed := c.InvalidatePattern(ctx, "mail:inbox:*")
	assert.Equal(t, 1, removed)

	_, ok := c.Lookup(ctx, "fp-4")
	assert.False(t, ok)
	_, ok = c.Lookup(ctx, "fp-5")
	assert.True(t, ok)
}

func TestFingerprint_IsStableAcrossKeyOrderAndCase(t *testing.T) {
	a := Fingerprint("mail-agent", "messages.search", map[string]any{"Query": "Invoice", "limit": 10}, nil)
	b := Fingerprint("mail-agent", "messages.search", map[string]any{"limit": 10, "Query": "invoice"}, nil)
	assert.Equal(t, a, b)
}

func TestFingerprint_DropsKeysEqualToSchemaDefault(t *testing.T) {
	withDefault := Fingerprint("mail-agent", "messages.search", map[string]any{"limit": 10}, map[string]any{"limit": 10})
	withoutKey := Fingerprint("mail-agent", "messages.search", map[string]any{}, nil)
	assert.Equal(t, withoutKey, withDefault)
}

func TestL1Store_EvictsLowestScoringEntryOverCapacity(t *testing.T) {
	s := newL1Store(1, 2, 0.3)
	s.put(Entry{Fingerprint: "a", StoredAt: time.Now().Add(-time.Hour), LastAccessAt: time.Now().Add(-time.Hour)})
	s.put(Entry{Fingerprint: "b", StoredAt: time.Now(), LastAccessAt: time.Now()})
	s.put(Entry{Fingerprint: "c", StoredAt: time.Now(), LastAccessAt: time.Now()})

	_, hasA := s.get("a")
	assert.False(t, hasA, "oldest/least-frequent entry should be evicted over capacity")
}
