package quotarelay

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrConfiguration    = errors.New("quotarelay: invalid configuration")
	ErrStorageFailure   = errors.New("quotarelay: storage failure")
	ErrNotAuthenticated = errors.New("quotarelay: not authenticated")
	ErrQuotaExceeded    = errors.New("quotarelay: quota exceeded")
	ErrForwardingFailed = errors.New("quotarelay: forwarded call failed")
	ErrUnknownCall      = errors.New("quotarelay: unknown call")
)

// RelayError wraps an error that aborted a relay with its context.
type RelayError struct {
	Op      string
	Account Account
	Session SessionID
	Err     error
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("quotarelay: op=%s account=%s session=%d: %v",
		e.Op, e.Account, e.Session, e.Err)
}

func (e *RelayError) Unwrap() error {
	return e.Err
}

// ForwardingError reports that the engine rejected a forwarded call.
// It is carried in RelayOutcome, never returned by Relay itself.
type ForwardingError struct {
	Account Account
	Err     error
}

func (e *ForwardingError) Error() string {
	return fmt.Sprintf("quotarelay: forwarded call failed: account=%s: %v", e.Account, e.Err)
}

func (e *ForwardingError) Unwrap() []error {
	return []error{ErrForwardingFailed, e.Err}
}

// storageError marks err as a storage failure for the given operation.
func storageError(op string, account Account, session SessionID, err error) error {
	return &RelayError{
		Op:      op,
		Account: account,
		Session: session,
		Err:     fmt.Errorf("%w: %w", ErrStorageFailure, err),
	}
}

// IsStorageFailure reports whether err aborted a request because the ledger
// could not be read or written.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// IsDenied reports whether err represents a quota denial.
func IsDenied(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}
