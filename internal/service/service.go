// Package service implements business logic, validation, and
// orchestration between HTTP handlers and the storage layers. The
// ReservationService is the coordination core: it serializes capacity
// mutation and participation persistence per event under a
// distributed lock so the counter and the durable records never
// diverge under concurrent access.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/reservehq/event-reservation/internal/capacity"
	"github.com/reservehq/event-reservation/internal/dlock"
	"github.com/reservehq/event-reservation/internal/model"
	"github.com/reservehq/event-reservation/internal/repository"
)

// lockPrefix namespaces the per-event reservation locks in Redis,
// next to the event:capacity: counter keys.
const lockPrefix = "event:lock:"

// freeSlotTimeout bounds the detached context used to give a slot
// back when the request context is no longer usable.
const freeSlotTimeout = 5 * time.Second

var (
	// ErrInvalidInput marks request-validation failures so handlers
	// can distinguish caller mistakes from server faults.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEventFull is returned when a join finds no remaining slots.
	ErrEventFull = errors.New("event is full")

	// ErrAlreadyRegistered is returned when a user joins an event
	// they already participate in.
	ErrAlreadyRegistered = errors.New("user already registered for this event")

	// ErrNotRegistered is returned when a user leaves an event they
	// do not participate in.
	ErrNotRegistered = errors.New("user not registered for this event")

	// ErrPersistence is returned when the durable write failed after
	// capacity was reserved. The reserved slot has already been
	// restored by a compensating increment when this is surfaced.
	ErrPersistence = errors.New("participation could not be persisted")
)

// ParticipationStore is the durable store for participation records.
// Implemented by repository.ParticipationRepository; tests substitute
// an in-memory fake.
type ParticipationStore interface {
	Exists(ctx context.Context, userID, eventID string) (bool, error)
	Create(ctx context.Context, userID, eventID string) (*model.Participation, error)
	DeleteByUserAndEvent(ctx context.Context, userID, eventID string) (bool, error)
	ListByEvent(ctx context.Context, eventID string) ([]model.Participation, error)
	ListByUser(ctx context.Context, userID string) ([]model.Participation, error)
	CountByEvent(ctx context.Context, eventID string) (int64, error)
}

// EventStore is the durable store for event records. Implemented by
// repository.EventRepository.
type EventStore interface {
	Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error)
	List(ctx context.Context) ([]model.Event, error)
	GetByID(ctx context.Context, id string) (*model.Event, error)
	UpdateCapacity(ctx context.Context, id string, capacity int) error
	Delete(ctx context.Context, id string) error
}

// LockName returns the distributed lock name for an event. Every
// join/leave for the same event contends on the same name, so their
// critical sections are totally ordered; different events use
// different names and never block each other.
func LockName(eventID string) string {
	return lockPrefix + eventID
}

// ReservationService coordinates join/leave operations. The capacity
// counter is only ever mutated while holding the event's lock, which
// makes the decrement/persist (and delete/increment) pairs atomic
// without a cross-store transaction.
type ReservationService struct {
	participations ParticipationStore
	counter        *capacity.Counter
	locks          *dlock.Coordinator
}

// NewReservationService constructs a ReservationService.
func NewReservationService(
	participations ParticipationStore,
	counter *capacity.Counter,
	locks *dlock.Coordinator,
) *ReservationService {
	return &ReservationService{
		participations: participations,
		counter:        counter,
		locks:          locks,
	}
}

// Join registers a user for an event if a slot remains.
//
// The duplicate pre-check runs outside the lock: losing that race is
// acceptable because the store's unique constraint catches it, and
// the capacity decrement below is the only invariant that must hold
// under the lock. If persistence fails after a successful decrement,
// the slot is restored with a compensating increment before the
// error is surfaced, so a failed join never leaks capacity.
func (s *ReservationService) Join(ctx context.Context, userID, eventID string) (*model.Participation, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if eventID == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}

	exists, err := s.participations.Exists(ctx, userID, eventID)
	if err != nil {
		return nil, fmt.Errorf("check participation: %w", err)
	}
	if exists {
		return nil, ErrAlreadyRegistered
	}

	var participation *model.Participation
	err = s.locks.WithLock(ctx, LockName(eventID), func(ctx context.Context) error {
		ok, err := s.counter.Decrement(ctx, eventID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrEventFull
		}

		p, err := s.participations.Create(ctx, userID, eventID)
		if err != nil {
			// Give the reserved slot back before reporting failure.
			// A cancelled request context is the usual reason the
			// write failed, so the increment must not depend on it.
			if incErr := s.freeSlot(eventID); incErr != nil {
				log.Printf("compensating increment failed for event %s: %v", eventID, incErr)
			}
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrAlreadyRegistered
			}
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		participation = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return participation, nil
}

// Leave removes a user's registration and frees their slot. The
// record is deleted first and the increment follows, both under the
// event lock; if no record exists the counter is untouched.
func (s *ReservationService) Leave(ctx context.Context, userID, eventID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if eventID == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}

	return s.locks.WithLock(ctx, LockName(eventID), func(ctx context.Context) error {
		found, err := s.participations.DeleteByUserAndEvent(ctx, userID, eventID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if !found {
			return ErrNotRegistered
		}
		// The record is already gone; the increment must not be
		// skipped because the request context was cancelled.
		if err := s.freeSlot(eventID); err != nil {
			return fmt.Errorf("free slot for event %s: %w", eventID, err)
		}
		return nil
	})
}

// freeSlot restores one open slot on a fresh bounded context, the
// same way the lock coordinator releases on a fresh context: the
// counter must be corrected even when the caller's context was
// cancelled mid-operation, or the slot is leaked permanently.
func (s *ReservationService) freeSlot(eventID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), freeSlotTimeout)
	defer cancel()
	_, err := s.counter.Increment(ctx, eventID)
	return err
}

// EventService orchestrates event lifecycle operations and owns the
// capacity counter lifecycle: the counter is seeded when an event is
// created, overwritten on administrative capacity changes, and
// removed on teardown.
type EventService struct {
	events         EventStore
	participations ParticipationStore
	counter        *capacity.Counter
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(
	events EventStore,
	participations ParticipationStore,
	counter *capacity.Counter,
) *EventService {
	return &EventService{
		events:         events,
		participations: participations,
		counter:        counter,
	}
}

// CreateEvent validates the request, persists the event, and seeds
// its capacity counter.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("%w: event name is required", ErrInvalidInput)
	}
	if req.Capacity < 0 {
		return nil, fmt.Errorf("%w: capacity cannot be negative", ErrInvalidInput)
	}
	if req.Capacity > 100_000 {
		return nil, fmt.Errorf("%w: capacity cannot exceed 100,000", ErrInvalidInput)
	}

	event, err := s.events.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := s.counter.Initialize(ctx, event.ID, event.Capacity); err != nil {
		// The event row exists but no one can join until the counter
		// does; surface the failure so the caller retries creation.
		return nil, fmt.Errorf("seed capacity counter: %w", err)
	}
	return event, nil
}

// ListEvents returns all events.
func (s *EventService) ListEvents(ctx context.Context) ([]model.Event, error) {
	return s.events.List(ctx)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// RemainingCapacity returns the current number of open slots for an
// event. The value is only authoritative while no join/leave is in
// flight.
func (s *EventService) RemainingCapacity(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	return s.counter.Read(ctx, id)
}

// UpdateCapacity performs an administrative overwrite of an event's
// capacity, in both the event record and the counter. Not part of
// the per-registration flow.
func (s *EventService) UpdateCapacity(ctx context.Context, id string, newCapacity int) error {
	if id == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if newCapacity < 0 {
		return fmt.Errorf("%w: capacity cannot be negative", ErrInvalidInput)
	}
	if err := s.events.UpdateCapacity(ctx, id, newCapacity); err != nil {
		return err
	}
	return s.counter.Update(ctx, id, newCapacity)
}

// DeleteEvent removes the event record and its capacity counter.
func (s *EventService) DeleteEvent(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: event id is required", ErrInvalidInput)
	}
	if err := s.events.Delete(ctx, id); err != nil {
		return err
	}
	return s.counter.Delete(ctx, id)
}

// ListParticipants returns all participations for an event.
func (s *EventService) ListParticipants(ctx context.Context, eventID string) ([]model.Participation, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.participations.ListByEvent(ctx, eventID)
}

// ListUserParticipations returns all participations for a user.
func (s *EventService) ListUserParticipations(ctx context.Context, userID string) ([]model.Participation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	return s.participations.ListByUser(ctx, userID)
}

// ParticipantCount returns the number of participants for an event.
func (s *EventService) ParticipantCount(ctx context.Context, eventID string) (int64, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return 0, repository.ErrNotFound
	}
	return s.participations.CountByEvent(ctx, eventID)
}
