package security

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRateLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRateLimiter(client)
}

func TestRateLimiter_AllowsWithinBurstThenDenies(t *testing.T) {
	r := newTestRateLimiter(t)
	ctx := context.Background()
	require.NoError(t, r.Install(ctx, "svc-1", 2, time.Minute))

	allowed, err := r.Allow(ctx, "svc-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = r.Allow(ctx, "svc-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = r.Allow(ctx, "svc-1")
	require.NoError(t, err)
	assert.False(t, allowed, "third call exceeds the installed burst of 2")
}

func TestRateLimiter_NoBucketInstalledAlwaysAllows(t *testing.T) {
	r := newTestRateLimiter(t)
	allowed, err := r.Allow(context.Background(), "svc-unconfigured")
	require.NoError(t, err)
	assert.True(t, allowed)
}
