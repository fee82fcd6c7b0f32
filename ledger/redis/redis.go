// Package redis provides a Redis-backed QuotaLedger and Locker for quotarelay.
//
// Each account's record is stored in one Redis hash and written with a single
// HSET, so a write either lands completely or not at all. The Locker
// serializes requests per account across relay instances.
package redis

import (
	"context"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/quotarelay"
)

// Store is a Redis-backed QuotaLedger.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ quotarelay.QuotaLedger = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "quotarelay:ledger:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed QuotaLedger.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "quotarelay:ledger:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountKey(account quotarelay.Account) string {
	return s.keyPrefix + string(account)
}

// Get returns the stored record, or the zero record if none exists.
func (s *Store) Get(ctx context.Context, account quotarelay.Account) (quotarelay.QuotaRecord, error) {
	vals, err := s.client.HMGet(ctx, s.accountKey(account), "last_session", "used").Result()
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/redis: get: %w", err)
	}

	// Account not found.
	if vals[0] == nil && vals[1] == nil {
		return quotarelay.QuotaRecord{}, nil
	}

	lastSession, err := parseField(vals[0], 64)
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/redis: get: last_session: %w", err)
	}
	used, err := parseField(vals[1], 32)
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/redis: get: used: %w", err)
	}

	return quotarelay.QuotaRecord{
		LastSession: quotarelay.SessionID(lastSession),
		Used:        uint32(used),
	}, nil
}

// Set overwrites the stored record.
func (s *Store) Set(ctx context.Context, account quotarelay.Account, record quotarelay.QuotaRecord) error {
	err := s.client.HSet(ctx, s.accountKey(account),
		"last_session", uint64(record.LastSession),
		"used", record.Used,
	).Err()
	if err != nil {
		return fmt.Errorf("quotarelay/redis: set: %w", err)
	}
	return nil
}

// parseField decodes one HMGET value. A missing field is a corrupt record.
func parseField(v any, bits int) (uint64, error) {
	str, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("corrupt record: unexpected value %v", v)
	}
	n, err := strconv.ParseUint(str, 10, bits)
	if err != nil {
		return 0, fmt.Errorf("corrupt record: %w", err)
	}
	return n, nil
}
