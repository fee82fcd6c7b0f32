package quotarelay

import (
	"math"
	"sync"
)

// Default weights, matching the host runtime's per-call base and storage read costs.
const (
	DefaultBaseWeight uint64 = 10_000
	DefaultReadWeight uint64 = 25_000_000
	DefaultDenyReads  uint64 = 3
)

// FeeKind is how the host should charge for a call.
type FeeKind int

const (
	// FeeWaived means no execution fee is charged.
	FeeWaived FeeKind = iota
	// FeeReducedFixed charges only the cost of the quota lookup.
	FeeReducedFixed
)

func (k FeeKind) String() string {
	switch k {
	case FeeWaived:
		return "waived"
	case FeeReducedFixed:
		return "reduced_fixed"
	default:
		return "unknown"
	}
}

// FeeDisposition is the fee outcome of a relayed call.
type FeeDisposition struct {
	Kind   FeeKind
	Weight uint64
}

// FeeSchedule computes fee dispositions from decisions.
type FeeSchedule struct {
	BaseWeight uint64 `yaml:"base_weight" env:"BASE_WEIGHT"`
	ReadWeight uint64 `yaml:"read_weight" env:"READ_WEIGHT"`
	DenyReads  uint64 `yaml:"deny_reads" env:"DENY_READS"`
}

// DefaultFeeSchedule returns the schedule used when none is configured.
func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		BaseWeight: DefaultBaseWeight,
		ReadWeight: DefaultReadWeight,
		DenyReads:  DefaultDenyReads,
	}
}

// Disposition returns Waived for allowed calls and the reduced fixed weight
// for denied ones. It depends on nothing but the decision.
func (s FeeSchedule) Disposition(d Decision) FeeDisposition {
	if d.Allowed {
		return FeeDisposition{Kind: FeeWaived}
	}
	return FeeDisposition{Kind: FeeReducedFixed, Weight: s.ReducedWeight()}
}

// ReducedWeight is BaseWeight + DenyReads*ReadWeight, saturating.
func (s FeeSchedule) ReducedWeight() uint64 {
	reads := uint64(math.MaxUint64)
	if s.DenyReads == 0 || s.ReadWeight <= math.MaxUint64/s.DenyReads {
		reads = s.DenyReads * s.ReadWeight
	}
	if reads > math.MaxUint64-s.BaseWeight {
		return math.MaxUint64
	}
	return reads + s.BaseWeight
}

// FeeTracker tallies charged weight per account within the current session.
type FeeTracker struct {
	mu       sync.Mutex
	accounts map[Account]uint64
	session  SessionID
}

// NewFeeTracker creates a new FeeTracker.
func NewFeeTracker() *FeeTracker {
	return &FeeTracker{
		accounts: make(map[Account]uint64),
	}
}

// Record adds the fee weight charged to account in session.
func (t *FeeTracker) Record(account Account, session SessionID, fee FeeDisposition) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkReset(session)
	if session != t.session {
		return
	}

	total := t.accounts[account]
	if fee.Weight > math.MaxUint64-total {
		total = math.MaxUint64
	} else {
		total += fee.Weight
	}
	t.accounts[account] = total
}

// Charged returns the weight charged to account in session.
func (t *FeeTracker) Charged(account Account, session SessionID) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if session != t.session {
		return 0
	}
	return t.accounts[account]
}

// checkReset drops all tallies when a newer session starts. Must be called with lock held.
func (t *FeeTracker) checkReset(session SessionID) {
	if session > t.session {
		t.accounts = make(map[Account]uint64)
		t.session = session
	}
}
