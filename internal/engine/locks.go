package engine

import (
	"context"
	"sync"
)

// lockRegistry hands out one mutual-exclusion slot per account. Execution
// cycles, interactive confirmation, and portfolio sync all serialize on it so
// the broker session never sees concurrent signed requests for one account.
type lockRegistry struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{slots: make(map[string]chan struct{})}
}

func (r *lockRegistry) slot(accountID string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.slots[accountID]
	if !ok {
		ch = make(chan struct{}, 1)
		r.slots[accountID] = ch
	}
	return ch
}

// TryAcquire takes the account's slot without blocking. False means a cycle
// is already in flight.
func (r *lockRegistry) TryAcquire(accountID string) bool {
	select {
	case r.slot(accountID) <- struct{}{}:
		return true
	default:
		return false
	}
}

// Acquire blocks until the slot is free or ctx is done.
func (r *lockRegistry) Acquire(ctx context.Context, accountID string) error {
	select {
	case r.slot(accountID) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *lockRegistry) Release(accountID string) {
	<-r.slot(accountID)
}
