package quotarelay

import "time"

// Meter observes relay outcomes. Delivery is fire-and-forget: implementations
// must not block and cannot fail the relay.
type Meter interface {
	// OnRelayed is called after an allowed call has been forwarded.
	OnRelayed(event RelayedEvent)

	// OnDenied is called for denied calls when Config.EmitDenyEvents is set.
	OnDenied(event DeniedEvent)
}

// RelayedEvent describes a forwarded call.
type RelayedEvent struct {
	ID       string
	Account  Account
	Session  SessionID
	Call     string
	Success  bool
	Used     uint32
	Limit    uint32
	Duration time.Duration
	Error    error
}

// DeniedEvent describes a call rejected for exceeding its quota.
type DeniedEvent struct {
	ID      string
	Account Account
	Session SessionID
	Call    string
	Used    uint32
	Limit   uint32
	Fee     FeeDisposition
}
