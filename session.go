package quotarelay

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"
)

// SessionID identifies a fixed-length window of the host counter.
type SessionID uint64

// CurrentSession maps a counter value to its session.
// sessionLength must be non-zero; Config.Validate guarantees this.
func CurrentSession(counter, sessionLength uint64) SessionID {
	return SessionID(counter / sessionLength)
}

// Start returns the first counter value of the session.
func (s SessionID) Start(sessionLength uint64) uint64 {
	if sessionLength != 0 && uint64(s) > math.MaxUint64/sessionLength {
		return math.MaxUint64
	}
	return uint64(s) * sessionLength
}

// End returns the first counter value of the following session.
func (s SessionID) End(sessionLength uint64) uint64 {
	start := s.Start(sessionLength)
	if start > math.MaxUint64-sessionLength {
		return math.MaxUint64
	}
	return start + sessionLength
}

// Counter is the host's non-decreasing counter (for example block height).
type Counter interface {
	Current(ctx context.Context) (uint64, error)
}

// CounterFunc adapts a function to the Counter interface.
type CounterFunc func(ctx context.Context) (uint64, error)

// Current implements Counter.
func (f CounterFunc) Current(ctx context.Context) (uint64, error) { return f(ctx) }

// ManualCounter is a Counter driven explicitly by the host.
type ManualCounter struct {
	n atomic.Uint64
}

var _ Counter = (*ManualCounter)(nil)

// NewManualCounter returns a counter starting at start.
func NewManualCounter(start uint64) *ManualCounter {
	c := &ManualCounter{}
	c.n.Store(start)
	return c
}

// Current implements Counter.
func (c *ManualCounter) Current(context.Context) (uint64, error) {
	return c.n.Load(), nil
}

// Set moves the counter to v. Values lower than the current one are ignored.
func (c *ManualCounter) Set(v uint64) {
	for {
		cur := c.n.Load()
		if v <= cur || c.n.CompareAndSwap(cur, v) {
			return
		}
	}
}

// Advance moves the counter forward by delta and returns the new value.
func (c *ManualCounter) Advance(delta uint64) uint64 {
	return c.n.Add(delta)
}

// ClockCounter derives the counter from wall-clock time: the number of whole
// intervals elapsed since genesis. It survives restarts, so stored records
// keep matching the session they were written in.
type ClockCounter struct {
	genesis  time.Time
	interval time.Duration
	now      func() time.Time
}

var _ Counter = (*ClockCounter)(nil)

// NewClockCounter creates a ClockCounter ticking once per interval after genesis.
func NewClockCounter(genesis time.Time, interval time.Duration) (*ClockCounter, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: counter interval must be positive", ErrConfiguration)
	}
	return &ClockCounter{genesis: genesis, interval: interval, now: time.Now}, nil
}

// Current implements Counter. Times before genesis read as zero.
func (c *ClockCounter) Current(context.Context) (uint64, error) {
	elapsed := c.now().Sub(c.genesis)
	if elapsed < 0 {
		return 0, nil
	}
	return uint64(elapsed / c.interval), nil
}
