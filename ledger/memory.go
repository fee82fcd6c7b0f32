// Package ledger provides QuotaLedger implementations.
//
// Memory is the in-process ledger. The redis, postgres and sqlite
// sub-packages persist records for multi-instance or durable deployments.
package ledger

import (
	"context"
	"sync"

	"github.com/ineyio/quotarelay"
)

// Memory is an in-memory QuotaLedger.
type Memory struct {
	mu      sync.RWMutex
	records map[quotarelay.Account]quotarelay.QuotaRecord
}

var _ quotarelay.QuotaLedger = (*Memory)(nil)

// NewMemory creates a new in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[quotarelay.Account]quotarelay.QuotaRecord),
	}
}

// Get returns the stored record, or the zero record if none exists.
func (m *Memory) Get(_ context.Context, account quotarelay.Account) (quotarelay.QuotaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.records[account], nil
}

// Set overwrites the stored record.
func (m *Memory) Set(_ context.Context, account quotarelay.Account, record quotarelay.QuotaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[account] = record
	return nil
}

// Len returns the number of accounts with a stored record.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records)
}
