package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireExclusive(t *testing.T) {
	r := newLockRegistry()
	require.True(t, r.TryAcquire("acct-1"))
	assert.False(t, r.TryAcquire("acct-1"))

	// Other accounts are independent.
	assert.True(t, r.TryAcquire("acct-2"))

	r.Release("acct-1")
	assert.True(t, r.TryAcquire("acct-1"))
}

func TestAcquireBlocksUntilReleased(t *testing.T) {
	r := newLockRegistry()
	require.True(t, r.TryAcquire("acct-1"))

	done := make(chan error, 1)
	go func() {
		done <- r.Acquire(context.Background(), "acct-1")
	}()

	select {
	case <-done:
		t.Fatal("acquire returned while lock held")
	case <-time.After(20 * time.Millisecond):
	}

	r.Release("acct-1")
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire never completed")
	}
	r.Release("acct-1")
}

func TestAcquireHonorsContext(t *testing.T) {
	r := newLockRegistry()
	require.True(t, r.TryAcquire("acct-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Acquire(ctx, "acct-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
