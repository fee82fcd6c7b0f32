package quotarelay

import (
	"context"
	"sync"
)

// Locker serializes requests for the same account. Reading a QuotaRecord and
// writing its successor must happen under the account's lock.
type Locker interface {
	// Lock blocks until the account's lock is held or ctx is done.
	// The returned func releases the lock.
	Lock(ctx context.Context, account Account) (unlock func(), err error)
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[Account]*lockSlot
}

type lockSlot struct {
	ch   chan struct{} // buffered(1): holds a token while locked
	refs int
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates a new LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[Account]*lockSlot)}
}

// Lock implements Locker.
func (l *LocalLocker) Lock(ctx context.Context, account Account) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[account]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[account] = slot
	}
	slot.refs++
	l.mu.Unlock()

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(account, slot)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(account, slot)
		})
	}, nil
}

// release drops one reference and frees the slot once nobody waits on it.
func (l *LocalLocker) release(account Account, slot *lockSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, account)
	}
}

// Len returns the number of accounts currently locked or waited on.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
