// Package capacity owns the per-event remaining-slots counter held
// in Redis. The counter is the source of truth for "how many open
// slots remain"; the participation records in PostgreSQL are the
// source of truth for "who is registered". The two are kept
// consistent by the reservation service, which mutates the counter
// only while holding the event's distributed lock.
package capacity

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// keyPrefix namespaces counter keys in the shared Redis instance.
const keyPrefix = "event:capacity:"

// ErrNotInitialized is returned when an operation touches a counter
// key that was never created. Counters exist only between Initialize
// and Delete; a missing key always fails rather than defaulting to
// zero, so a teardown race cannot masquerade as a full event.
var ErrNotInitialized = errors.New("capacity counter not initialized")

// Counter provides atomic operations on per-event capacity counters.
type Counter struct {
	client *redis.Client
}

// NewCounter constructs a Counter backed by the given Redis client.
func NewCounter(client *redis.Client) *Counter {
	return &Counter{client: client}
}

func key(eventID string) string {
	return keyPrefix + eventID
}

// Initialize sets the counter for an event to the given number of
// open slots. Negative values are clamped to zero (events created
// without a capacity start with no open slots). Calling it again
// overwrites the value, so it must not be called after registrations
// have begun.
func (c *Counter) Initialize(ctx context.Context, eventID string, slots int) error {
	if slots < 0 {
		slots = 0
	}
	if err := c.client.Set(ctx, key(eventID), slots, 0).Err(); err != nil {
		return fmt.Errorf("initialize capacity for event %s: %w", eventID, err)
	}
	return nil
}

// Read returns the current number of open slots.
func (c *Counter) Read(ctx context.Context, eventID string) (int64, error) {
	v, err := c.client.Get(ctx, key(eventID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotInitialized
	}
	if err != nil {
		return 0, fmt.Errorf("read capacity for event %s: %w", eventID, err)
	}
	return v, nil
}

// Increment atomically frees one slot (a participant left) and
// returns the new value.
func (c *Counter) Increment(ctx context.Context, eventID string) (int64, error) {
	exists, err := c.client.Exists(ctx, key(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("check capacity for event %s: %w", eventID, err)
	}
	if exists == 0 {
		return 0, ErrNotInitialized
	}
	v, err := c.client.Incr(ctx, key(eventID)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment capacity for event %s: %w", eventID, err)
	}
	return v, nil
}

// Decrement atomically claims one slot. It returns false without
// mutating the counter when no slots remain. If the stored value
// still ends up below zero (the pre-check raced with another
// writer), the decrement is undone with a compensating increment and
// false is returned, so a failed claim never changes the counter.
func (c *Counter) Decrement(ctx context.Context, eventID string) (bool, error) {
	cur, err := c.client.Get(ctx, key(eventID)).Int64()
	if errors.Is(err, redis.Nil) {
		return false, ErrNotInitialized
	}
	if err != nil {
		return false, fmt.Errorf("read capacity for event %s: %w", eventID, err)
	}
	if cur <= 0 {
		return false, nil
	}

	next, err := c.client.Decr(ctx, key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("decrement capacity for event %s: %w", eventID, err)
	}
	if next < 0 {
		if err := c.client.Incr(ctx, key(eventID)).Err(); err != nil {
			return false, fmt.Errorf("undo negative decrement for event %s: %w", eventID, err)
		}
		return false, nil
	}
	return true, nil
}

// Update overwrites the counter with an explicit value. This is an
// administrative correction, not part of the per-registration flow.
func (c *Counter) Update(ctx context.Context, eventID string, slots int) error {
	if slots < 0 {
		slots = 0
	}
	if err := c.client.Set(ctx, key(eventID), slots, 0).Err(); err != nil {
		return fmt.Errorf("update capacity for event %s: %w", eventID, err)
	}
	return nil
}

// Delete removes the counter key entirely (event teardown).
func (c *Counter) Delete(ctx context.Context, eventID string) error {
	if err := c.client.Del(ctx, key(eventID)).Err(); err != nil {
		return fmt.Errorf("delete capacity for event %s: %w", eventID, err)
	}
	return nil
}
