package quotarelay

// Account is an opaque caller identifier resolved by the host's identity layer.
type Account string

// Origin is the authority a forwarded call executes under.
type Origin struct {
	Account Account
}

// QuotaRecord is the persisted per-account usage record.
// A record whose LastSession is not the current session counts as zero usage.
type QuotaRecord struct {
	LastSession SessionID `json:"last_session"`
	Used        uint32    `json:"used"`
}

// CallEnvelope wraps an opaque call with the account that submitted it.
type CallEnvelope struct {
	Origin Origin
	Call   Call
}

// Account returns the originating account of the envelope.
func (e CallEnvelope) Account() Account { return e.Origin.Account }

// RelayOutcome describes what happened to a single relayed call.
type RelayOutcome struct {
	ID        string
	Account   Account
	Session   SessionID
	Forwarded bool
	Result    InnerResult
	Fee       FeeDisposition

	// Record is the ledger state for the account after the call.
	Record QuotaRecord
}

// Err returns ErrQuotaExceeded for a denied call, a wrapped
// ErrForwardingFailed when the engine rejected the call, and nil otherwise.
func (o RelayOutcome) Err() error {
	if !o.Forwarded {
		return ErrQuotaExceeded
	}
	if o.Result.Err != nil {
		return &ForwardingError{Account: o.Account, Err: o.Result.Err}
	}
	return nil
}

// InnerResult is the engine's verdict on a forwarded call.
type InnerResult struct {
	Info PostExecutionInfo
	Err  error
}

// Succeeded reports whether the forwarded call completed without error.
func (r InnerResult) Succeeded() bool { return r.Err == nil }

// QuotaStatus is a read-only view of an account's quota in the current session.
type QuotaStatus struct {
	Account      Account   `json:"account"`
	Session      SessionID `json:"session"`
	Used         uint32    `json:"used"`
	Limit        uint32    `json:"limit"`
	Remaining    uint32    `json:"remaining"`
	SessionStart uint64    `json:"session_start"`
	SessionEnd   uint64    `json:"session_end"`
}
