package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/ledger/internal/apperr"
)

func testOptions() Options {
	return Options{
		TTL:        5 * time.Second,
		Wait:       2 * time.Second,
		RetryDelay: 10 * time.Millisecond,
	}
}

func TestLocal_AcquireRelease(t *testing.T) {
	l := NewLocal(testOptions())
	ctx := context.Background()

	lease, err := l.Acquire(ctx, AccountKey("1000000000"))
	require.NoError(t, err)
	assert.Equal(t, "account:1000000000", lease.Key)
	assert.NotEmpty(t, lease.Token)
	assert.False(t, lease.Expired(time.Now()))

	require.NoError(t, l.Release(ctx, lease))
	assert.Empty(t, l.entries, "entry should be pruned once released")

	// Releasing twice is a no-op.
	assert.NoError(t, l.Release(ctx, lease))
	assert.NoError(t, l.Release(ctx, nil))
}

func TestLocal_EmptyKey(t *testing.T) {
	l := NewLocal(testOptions())

	_, err := l.Acquire(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestLocal_FenceIncreases(t *testing.T) {
	l := NewLocal(testOptions())
	ctx := context.Background()

	first, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, first))

	second, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, l.Release(ctx, second))

	assert.Greater(t, second.Fence, first.Fence)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestLocal_Timeout(t *testing.T) {
	opts := testOptions()
	opts.Wait = 50 * time.Millisecond
	l := NewLocal(opts)
	ctx := context.Background()

	held, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Release(ctx, held))
	assert.Empty(t, l.entries)
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal(testOptions())

	held, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, l.Release(context.Background(), held))
}

func TestLocal_WaiterWakesOnRelease(t *testing.T) {
	l := NewLocal(testOptions())
	ctx := context.Background()

	held, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	got := make(chan *Lease, 1)

	go func() {
		lease, err := l.Acquire(ctx, "k")
		if err == nil {
			got <- lease
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Release(ctx, held))

	select {
	case lease := <-got:
		assert.Greater(t, lease.Fence, held.Fence)
		require.NoError(t, l.Release(ctx, lease))
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by release")
	}
}

func TestLocal_ExpiredLeaseIsSuperseded(t *testing.T) {
	opts := testOptions()
	opts.TTL = 30 * time.Millisecond
	l := NewLocal(opts)
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	fresh, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, fresh.Fence, stale.Fence)
	assert.True(t, stale.Expired(time.Now()))

	// The stale holder finishing late must not free the new holder's lease.
	require.NoError(t, l.Release(ctx, stale))
	assert.Equal(t, fresh.Token, l.entries["k"].token)

	require.NoError(t, l.Release(ctx, fresh))
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal(testOptions())
	ctx := context.Background()

	var (
		current       int32
		maxConcurrent int32
		wg            sync.WaitGroup
	)

	const workers = 20

	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			lease, err := l.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}

			n := atomic.AddInt32(&current, 1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
					break
				}
			}

			time.Sleep(time.Millisecond)
			atomic.AddInt32(&current, -1)

			assert.NoError(t, l.Release(ctx, lease))
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), maxConcurrent)
	assert.Empty(t, l.entries)
}

func TestLocal_DifferentKeysDoNotContend(t *testing.T) {
	opts := testOptions()
	opts.Wait = 50 * time.Millisecond
	l := NewLocal(opts)
	ctx := context.Background()

	a, err := l.Acquire(ctx, AccountKey("1000000000"))
	require.NoError(t, err)

	start := time.Now()
	b, err := l.Acquire(ctx, AccountKey("1000000001"))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	require.NoError(t, l.Release(ctx, a))
	require.NoError(t, l.Release(ctx, b))
}

func TestAppError(t *testing.T) {
	assert.ErrorIs(t, AppError(ErrTimeout), apperr.ErrLockTimeout)
	assert.True(t, apperr.IsInfra(AppError(context.Canceled)))
}
