package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/quotarelay"
)

// Locker is a Redis-backed per-account Locker.
type Locker struct {
	client    goredis.Cmdable
	keyPrefix string
	ttl       time.Duration
	retry     time.Duration
}

var _ quotarelay.Locker = (*Locker)(nil)

// LockerOption configures Locker.
type LockerOption func(*Locker)

// WithLockPrefix sets the Redis key prefix (default "quotarelay:lock:").
func WithLockPrefix(prefix string) LockerOption {
	return func(l *Locker) { l.keyPrefix = prefix }
}

// WithLockTTL bounds how long a crashed holder can keep an account locked.
func WithLockTTL(d time.Duration) LockerOption {
	return func(l *Locker) { l.ttl = d }
}

// WithRetryInterval sets how often a waiting Lock polls.
func WithRetryInterval(d time.Duration) LockerOption {
	return func(l *Locker) { l.retry = d }
}

// NewLocker creates a new Redis-backed Locker.
func NewLocker(client goredis.Cmdable, opts ...LockerOption) *Locker {
	l := &Locker{
		client:    client,
		keyPrefix: "quotarelay:lock:",
		ttl:       10 * time.Second,
		retry:     10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// releaseScript deletes the lock only if it is still held by this token.
// KEYS[1] = lock key
// ARGV[1] = token
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Lock blocks until the account's lock is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, account quotarelay.Account) (func(), error) {
	key := l.keyPrefix + string(account)
	token := uuid.New().String()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("quotarelay/redis: lock: %w", err)
		}
		if ok {
			return func() {
				_ = releaseScript.Run(context.Background(), l.client, []string{key}, token).Err()
			}, nil
		}

		timer := time.NewTimer(l.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
