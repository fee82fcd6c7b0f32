package identity

import (
	"context"
	"sync"
	"time"
)

// ReplayCache remembers accepted requests until their timestamp leaves the
// skew window, so a captured request cannot be submitted twice.
type ReplayCache interface {
	// Claim records key until expiry. It reports false if key is already held.
	Claim(ctx context.Context, key string, expiry time.Time) (bool, error)
}

// MemoryReplayCache is an in-process ReplayCache.
type MemoryReplayCache struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	nextSweep time.Time
	now       func() time.Time
}

var _ ReplayCache = (*MemoryReplayCache)(nil)

// NewMemoryReplayCache creates an empty MemoryReplayCache.
func NewMemoryReplayCache() *MemoryReplayCache {
	return &MemoryReplayCache{entries: make(map[string]time.Time), now: time.Now}
}

// Claim implements ReplayCache.
func (c *MemoryReplayCache) Claim(_ context.Context, key string, expiry time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sweep(now)

	if exp, ok := c.entries[key]; ok && exp.After(now) {
		return false, nil
	}
	c.entries[key] = expiry
	return true, nil
}

// sweep drops expired entries at most once per second.
func (c *MemoryReplayCache) sweep(now time.Time) {
	if now.Before(c.nextSweep) {
		return
	}
	for k, exp := range c.entries {
		if !exp.After(now) {
			delete(c.entries, k)
		}
	}
	c.nextSweep = now.Add(time.Second)
}

// Len returns the number of requests currently remembered.
func (c *MemoryReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
