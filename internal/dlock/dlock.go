// Package dlock implements named, lease-scoped distributed locks on
// top of Redis. Exclusivity is enforced by the store (SET NX), not
// by this process, so it holds across all instances of the service.
// The lease bounds how long a crashed holder can block others.
package dlock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Default timings, matching the lock contract: wait at most 10s for
// acquisition, hold the lease for at most 30s.
const (
	DefaultWaitTimeout   = 10 * time.Second
	DefaultLeaseTime     = 30 * time.Second
	defaultRetryInterval = 50 * time.Millisecond

	releaseTimeout = 5 * time.Second
)

// ErrLockUnavailable is returned when a lock cannot be acquired
// within the wait bound, including when the caller's context is
// cancelled while waiting. No state has been mutated when it is
// returned and the guarded operation has not run.
var ErrLockUnavailable = errors.New("lock unavailable")

// releaseScript deletes the lock key only if it still holds our
// ownership token. After lease expiry the key may belong to another
// holder; deleting unconditionally would release their lock.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Config tunes the coordinator's timings. Zero values fall back to
// the defaults above.
type Config struct {
	WaitTimeout   time.Duration
	LeaseTime     time.Duration
	RetryInterval time.Duration
}

// Coordinator acquires and releases distributed locks.
type Coordinator struct {
	client *redis.Client
	wait   time.Duration
	lease  time.Duration
	retry  time.Duration
}

// New constructs a Coordinator backed by the given Redis client.
func New(client *redis.Client, cfg Config) *Coordinator {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.LeaseTime <= 0 {
		cfg.LeaseTime = DefaultLeaseTime
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	return &Coordinator{
		client: client,
		wait:   cfg.WaitTimeout,
		lease:  cfg.LeaseTime,
		retry:  cfg.RetryInterval,
	}
}

// WithLock acquires the named lock, runs fn, and releases the lock on
// every exit path, panics included. The release checks the ownership
// token first, so a lock that expired and was reacquired by someone
// else is left alone. Returns ErrLockUnavailable without running fn
// when the lock cannot be acquired within the wait bound.
func (c *Coordinator) WithLock(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	token := uuid.NewString()
	if err := c.acquire(ctx, name, token); err != nil {
		return err
	}
	defer c.release(name, token)
	return fn(ctx)
}

func (c *Coordinator) acquire(ctx context.Context, name, token string) error {
	deadline := time.Now().Add(c.wait)
	for {
		ok, err := c.client.SetNX(ctx, name, token, c.lease).Result()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %s: %v", ErrLockUnavailable, name, ctx.Err())
			}
			return fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s: wait timeout after %s", ErrLockUnavailable, name, c.wait)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %v", ErrLockUnavailable, name, ctx.Err())
		case <-time.After(c.retry):
		}
	}
}

// release runs on a fresh context so the lock is still freed when the
// caller's context was cancelled mid-operation.
func (c *Coordinator) release(name, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := releaseScript.Run(ctx, c.client, []string{name}, token).Err(); err != nil {
		// The lease will expire the lock anyway; log and move on.
		log.Printf("dlock: release %s: %v", name, err)
	}
}
