package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// l2KeyPrefix matches SPEC_FULL.md §3.3's "cache:l2:<fingerprint>" layout.
const l2KeyPrefix = "cache:l2:"

// RedisL2Store is the production l2Store, backed by go-redis/v9.
type RedisL2Store struct {
	client *redis.Client
}

// NewRedisL2Store wraps an already-configured client (pool size etc. come
// from pkg/config's CacheL2Config).
func NewRedisL2Store(client *redis.Client) *RedisL2Store {
	return &RedisL2Store{client: client}
}

func (s *RedisL2Store) Get(ctx context.Context, fingerprint string) (*Entry, error) {
	body, err := s.client.Get(ctx, l2KeyPrefix+fingerprint).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("l2 get %q: %w", fingerprint, err)
	}
	var e Entry
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("l2 decode %q: %w", fingerprint, err)
	}
	return &e, nil
}

func (s *RedisL2Store) Put(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("l2 encode %q: %w", e.Fingerprint, err)
	}
	if err := s.client.Set(ctx, l2KeyPrefix+e.Fingerprint, body, e.TTL).Err(); err != nil {
		return fmt.Errorf("l2 put %q: %w", e.Fingerprint, err)
	}
	return nil
}

func (s *RedisL2Store) Delete(ctx context.Context, fingerprint string) error {
	if err := s.client.Del(ctx, l2KeyPrefix+fingerprint).Err(); err != nil {
		return fmt.Errorf("l2 delete %q: %w", fingerprint, err)
	}
	return nil
}
