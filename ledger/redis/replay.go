package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/quotarelay/identity"
)

// ReplayCache is a Redis-backed identity.ReplayCache shared by every relay
// pointing at the same Redis.
type ReplayCache struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ identity.ReplayCache = (*ReplayCache)(nil)

// NewReplayCache creates a ReplayCache with keys under prefix
// (default "quotarelay:seen:" when empty).
func NewReplayCache(client goredis.Cmdable, prefix string) *ReplayCache {
	if prefix == "" {
		prefix = "quotarelay:seen:"
	}
	return &ReplayCache{client: client, keyPrefix: prefix}
}

// Claim implements identity.ReplayCache.
func (c *ReplayCache) Claim(ctx context.Context, key string, expiry time.Time) (bool, error) {
	ttl := time.Until(expiry)
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	ok, err := c.client.SetNX(ctx, c.keyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("quotarelay/redis: claim: %w", err)
	}
	return ok, nil
}
