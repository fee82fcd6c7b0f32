// Package postgres provides a PostgreSQL-backed QuotaLedger for quotarelay.
//
// Records are stored in a single table keyed by account and written with one
// upsert statement, which makes every write atomic and durable across restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/quotarelay"
)

// Store is a PostgreSQL-backed QuotaLedger.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ quotarelay.QuotaLedger = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "quotarelay_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed QuotaLedger.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "quotarelay_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects to dsn and ensures the schema exists.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("quotarelay/postgres: connect: %w", err)
	}
	s := New(pool, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) recordsTable() string { return s.tablePrefix + "records" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			account TEXT PRIMARY KEY,
			last_session NUMERIC(20, 0) NOT NULL DEFAULT 0,
			used BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`, s.recordsTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("quotarelay/postgres: ensure schema: %w", err)
	}
	return nil
}

// Get returns the stored record, or the zero record if none exists.
func (s *Store) Get(ctx context.Context, account quotarelay.Account) (quotarelay.QuotaRecord, error) {
	var lastSession string
	var used int64

	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT last_session::TEXT, used FROM %s WHERE account = $1`, s.recordsTable()),
		string(account),
	).Scan(&lastSession, &used)

	if errors.Is(err, pgx.ErrNoRows) {
		return quotarelay.QuotaRecord{}, nil
	}
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/postgres: get: %w", err)
	}

	session, err := parseSession(lastSession)
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/postgres: get: %w", err)
	}
	if used < 0 || used > int64(^uint32(0)) {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/postgres: get: corrupt record: used=%d", used)
	}

	return quotarelay.QuotaRecord{LastSession: session, Used: uint32(used)}, nil
}

// Set overwrites the stored record (upsert).
func (s *Store) Set(ctx context.Context, account quotarelay.Account, record quotarelay.QuotaRecord) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (account, last_session, used, updated_at)
			VALUES ($1, $2::TEXT::NUMERIC, $3, now())
			ON CONFLICT (account) DO UPDATE SET last_session = EXCLUDED.last_session,
				used = EXCLUDED.used, updated_at = EXCLUDED.updated_at`,
			s.recordsTable()),
		string(account), formatSession(record.LastSession), int64(record.Used),
	)
	if err != nil {
		return fmt.Errorf("quotarelay/postgres: set: %w", err)
	}
	return nil
}
