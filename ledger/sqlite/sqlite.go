// Package sqlite provides a SQLite-backed QuotaLedger for single-node hosts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ineyio/quotarelay"
)

const schema = `
CREATE TABLE IF NOT EXISTS quota_records (
	account TEXT PRIMARY KEY,
	last_session TEXT NOT NULL,
	used INTEGER NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);`

// Store persists quota records in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ quotarelay.QuotaLedger = (*Store)(nil)

// Open opens a SQLite ledger at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("quotarelay/sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("quotarelay/sqlite: open: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("quotarelay/sqlite: ping: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("quotarelay/sqlite: apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the stored record, or the zero record if none exists.
func (s *Store) Get(ctx context.Context, account quotarelay.Account) (quotarelay.QuotaRecord, error) {
	var lastSession string
	var used int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT last_session, used FROM quota_records WHERE account = ?`,
		string(account),
	).Scan(&lastSession, &used)
	if errors.Is(err, sql.ErrNoRows) {
		return quotarelay.QuotaRecord{}, nil
	}
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/sqlite: get: %w", err)
	}

	session, err := strconv.ParseUint(lastSession, 10, 64)
	if err != nil {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/sqlite: get: corrupt last_session %q: %w", lastSession, err)
	}
	if used < 0 || used > int64(^uint32(0)) {
		return quotarelay.QuotaRecord{}, fmt.Errorf("quotarelay/sqlite: get: corrupt used %d", used)
	}

	return quotarelay.QuotaRecord{
		LastSession: quotarelay.SessionID(session),
		Used:        uint32(used),
	}, nil
}

// Set overwrites the stored record.
func (s *Store) Set(ctx context.Context, account quotarelay.Account, record quotarelay.QuotaRecord) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO quota_records (account, last_session, used, updated_at)
		VALUES (?, ?, ?, unixepoch())
		ON CONFLICT(account) DO UPDATE SET
			last_session = excluded.last_session,
			used = excluded.used,
			updated_at = excluded.updated_at`,
		string(account),
		strconv.FormatUint(uint64(record.LastSession), 10),
		int64(record.Used),
	)
	if err != nil {
		return fmt.Errorf("quotarelay/sqlite: set: %w", err)
	}
	return nil
}
