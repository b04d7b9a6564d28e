package dlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = 5 * time.Millisecond
	}
	return New(client, cfg), mr
}

func TestWithLockRunsOperation(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{})
	ctx := context.Background()

	ran := false
	err := c.WithLock(ctx, "lock:a", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, mr.Exists("lock:a"), "lock should be released")
}

func TestWithLockPropagatesOperationError(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{})

	opErr := errors.New("boom")
	err := c.WithLock(context.Background(), "lock:a", func(ctx context.Context) error {
		return opErr
	})
	assert.ErrorIs(t, err, opErr)
	assert.False(t, mr.Exists("lock:a"), "lock should be released on error")
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{})

	require.Panics(t, func() {
		_ = c.WithLock(context.Background(), "lock:a", func(ctx context.Context) error {
			panic("operation exploded")
		})
	})
	assert.False(t, mr.Exists("lock:a"), "lock should be released after panic")
}

func TestMutualExclusion(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{WaitTimeout: 5 * time.Second})
	ctx := context.Background()

	var inside, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := c.WithLock(ctx, "lock:shared", func(ctx context.Context) error {
				if !atomic.CompareAndSwapInt32(&inside, 0, 1) {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.StoreInt32(&inside, 0)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, atomic.LoadInt32(&overlaps), "no two holders may be inside the critical section")
}

func TestWaitTimeout(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{WaitTimeout: 100 * time.Millisecond})

	// Lock already held by another process.
	require.NoError(t, mr.Set("lock:busy", "someone-else"))

	ran := false
	err := c.WithLock(context.Background(), "lock:busy", func(ctx context.Context) error {
		ran = true
		return nil
	})
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.False(t, ran, "operation must not run without the lock")

	// The foreign lock is untouched.
	v, getErr := mr.Get("lock:busy")
	require.NoError(t, getErr)
	assert.Equal(t, "someone-else", v)
}

func TestContextCancelledWhileWaiting(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{WaitTimeout: 10 * time.Second})

	require.NoError(t, mr.Set("lock:busy", "someone-else"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := c.WithLock(ctx, "lock:busy", func(ctx context.Context) error {
		return nil
	})
	assert.ErrorIs(t, err, ErrLockUnavailable)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation should cut the wait short")
}

func TestStaleHolderDoesNotReleaseNewOwner(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{})

	err := c.WithLock(context.Background(), "lock:a", func(ctx context.Context) error {
		// Simulate lease expiry and reacquisition by another process
		// while the operation is still running.
		require.NoError(t, mr.Set("lock:a", "new-owner-token"))
		return nil
	})
	require.NoError(t, err)

	// Our token no longer matches, so release must have left the new
	// owner's lock in place.
	v, getErr := mr.Get("lock:a")
	require.NoError(t, getErr)
	assert.Equal(t, "new-owner-token", v)
}

func TestLeaseExpiryUnblocksWaiters(t *testing.T) {
	c, mr := newTestCoordinator(t, Config{
		WaitTimeout: 2 * time.Second,
		LeaseTime:   50 * time.Millisecond,
	})
	ctx := context.Background()

	holding := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.WithLock(ctx, "lock:a", func(ctx context.Context) error {
			close(holding)
			// Outlive the lease.
			time.Sleep(150 * time.Millisecond)
			return nil
		})
	}()

	<-holding
	// Expire the first holder's lease.
	mr.FastForward(100 * time.Millisecond)

	err := c.WithLock(ctx, "lock:a", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "expired lease should allow a new holder")
	<-done
}

func TestDifferentNamesDoNotBlock(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{WaitTimeout: 200 * time.Millisecond})
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.WithLock(ctx, "lock:event-x", func(ctx context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	err := c.WithLock(ctx, "lock:event-y", func(ctx context.Context) error {
		return nil
	})
	assert.NoError(t, err, "a held lock on another name must not block")

	close(release)
	<-done
}

func TestDefaultTimings(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := New(client, Config{})
	assert.Equal(t, DefaultWaitTimeout, c.wait)
	assert.Equal(t, DefaultLeaseTime, c.lease)
	assert.Equal(t, defaultRetryInterval, c.retry)
}
