package quotarelay

import "context"

// QuotaLedger persists one QuotaRecord per account.
type QuotaLedger interface {
	// Get returns the stored record, or the zero record if the account has none.
	Get(ctx context.Context, account Account) (QuotaRecord, error)

	// Set overwrites the stored record. The write is all-or-nothing.
	Set(ctx context.Context, account Account, record QuotaRecord) error
}
