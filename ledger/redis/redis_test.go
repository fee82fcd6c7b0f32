package redis_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qr "github.com/ineyio/quotarelay"
	ledgerredis "github.com/ineyio/quotarelay/ledger/redis"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestGetMissingIsZero(t *testing.T) {
	_, client := newTestClient(t)
	store := ledgerredis.New(client)

	rec, err := store.Get(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, qr.QuotaRecord{}, rec)
}

func TestSetAndGet(t *testing.T) {
	srv, client := newTestClient(t)
	store := ledgerredis.New(client, ledgerredis.WithKeyPrefix("test:"))
	ctx := context.Background()

	want := qr.QuotaRecord{LastSession: math.MaxUint64, Used: 7}
	require.NoError(t, store.Set(ctx, "alice", want))

	got, err := store.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	assert.Equal(t, "7", srv.HGet("test:alice", "used"))
}

func TestGetCorruptRecord(t *testing.T) {
	srv, client := newTestClient(t)
	store := ledgerredis.New(client)

	srv.HSet("quotarelay:ledger:alice", "last_session", "1", "used", "lots")
	_, err := store.Get(context.Background(), "alice")
	assert.ErrorContains(t, err, "corrupt record")

	srv.HSet("quotarelay:ledger:bob", "used", "1")
	_, err = store.Get(context.Background(), "bob")
	assert.ErrorContains(t, err, "corrupt record")
}

func TestUnreachable(t *testing.T) {
	srv, client := newTestClient(t)
	store := ledgerredis.New(client)
	srv.Close()

	_, err := store.Get(context.Background(), "alice")
	assert.Error(t, err)
	assert.Error(t, store.Set(context.Background(), "alice", qr.QuotaRecord{Used: 1}))
}

func TestLocker_MutualExclusion(t *testing.T) {
	_, client := newTestClient(t)
	locker := ledgerredis.NewLocker(client, ledgerredis.WithRetryInterval(time.Millisecond))
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "alice")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()

			time.Sleep(2 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestLocker_ContextCancelAndRelease(t *testing.T) {
	srv, client := newTestClient(t)
	locker := ledgerredis.NewLocker(client,
		ledgerredis.WithLockPrefix("lock:"),
		ledgerredis.WithLockTTL(time.Minute),
		ledgerredis.WithRetryInterval(time.Millisecond),
	)

	unlock, err := locker.Lock(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, srv.Exists("lock:alice"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Lock(ctx, "alice")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.False(t, srv.Exists("lock:alice"))
}

func TestLocker_ReleaseKeepsForeignLock(t *testing.T) {
	srv, client := newTestClient(t)
	locker := ledgerredis.NewLocker(client, ledgerredis.WithLockPrefix("lock:"))

	unlock, err := locker.Lock(context.Background(), "alice")
	require.NoError(t, err)

	// The lock expired and someone else took it.
	require.NoError(t, srv.Set("lock:alice", "other-holder"))
	unlock()
	got, err := srv.Get("lock:alice")
	require.NoError(t, err)
	assert.Equal(t, "other-holder", got)
}

func TestReplayCache(t *testing.T) {
	srv, client := newTestClient(t)
	cache := ledgerredis.NewReplayCache(client, "")
	ctx := context.Background()

	ok, err := cache.Claim(ctx, "alice:abc", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cache.Claim(ctx, "alice:abc", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, srv.Exists("quotarelay:seen:alice:abc"))
	assert.InDelta(t, time.Minute.Seconds(), srv.TTL("quotarelay:seen:alice:abc").Seconds(), 1)

	srv.FastForward(2 * time.Minute)
	ok, err = cache.Claim(ctx, "alice:abc", time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "claims expire with the skew window")
}

func TestReplayCache_Unreachable(t *testing.T) {
	srv, client := newTestClient(t)
	cache := ledgerredis.NewReplayCache(client, "seen:")
	srv.Close()

	_, err := cache.Claim(context.Background(), "k", time.Now().Add(time.Minute))
	assert.Error(t, err)
}
