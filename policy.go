package quotarelay

import "math"

// Decision is the outcome of evaluating an account's quota.
type Decision struct {
	Allowed bool
	Session SessionID

	// Record is the successor record to persist when Allowed, and the
	// unchanged stored record otherwise.
	Record QuotaRecord

	// Used is the effective usage in the evaluated session before this call.
	Used  uint32
	Limit uint32
}

// Remaining returns how many calls are left in the session after this decision.
func (d Decision) Remaining() uint32 {
	used := d.Used
	if d.Allowed {
		used = d.Record.Used
	}
	if used >= d.Limit {
		return 0
	}
	return d.Limit - used
}

// QuotaPolicy admits at most MaxCalls calls per account per session.
type QuotaPolicy struct {
	MaxCalls uint32
}

// Evaluate decides whether one more call fits in session given the stored
// record. Usage only carries over when record.LastSession equals session.
func (p QuotaPolicy) Evaluate(record QuotaRecord, session SessionID) Decision {
	used := effectiveUsed(record, session)
	if used >= p.MaxCalls {
		return Decision{Session: session, Record: record, Used: used, Limit: p.MaxCalls}
	}
	return Decision{
		Allowed: true,
		Session: session,
		Record:  QuotaRecord{LastSession: session, Used: saturatingInc(used)},
		Used:    used,
		Limit:   p.MaxCalls,
	}
}

func effectiveUsed(record QuotaRecord, session SessionID) uint32 {
	if record.LastSession != session {
		return 0
	}
	return record.Used
}

func saturatingInc(v uint32) uint32 {
	if v == math.MaxUint32 {
		return v
	}
	return v + 1
}
