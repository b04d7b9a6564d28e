// Package repository implements all database queries for the event
// reservation system. It uses pgx directly (no ORM) for transparency
// and performance. Capacity accounting does not live here: the
// remaining-slots counter is owned by the capacity package, and the
// service layer serializes counter and record mutation under a
// distributed lock.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reservehq/event-reservation/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when inserting a participation that
// violates the unique (user, event) constraint. The constraint is a
// secondary guard behind the service's pre-check.
var ErrDuplicate = errors.New("participation already exists")

// uniqueViolation is the PostgreSQL error code for a unique
// constraint violation.
const uniqueViolation = "23505"

// EventRepository handles persistence for events.
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository constructs an EventRepository.
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// Create inserts a new event and returns it with a generated UUID.
func (r *EventRepository) Create(ctx context.Context, req model.CreateEventRequest) (*model.Event, error) {
	event := &model.Event{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		Capacity:    req.Capacity,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO events (id, name, description, capacity, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		event.ID, event.Name, event.Description, event.Capacity, event.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return event, nil
}

// List returns all events ordered by creation time descending.
func (r *EventRepository) List(ctx context.Context) ([]model.Event, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, capacity, created_at
		 FROM events
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		if err := rows.Scan(&e.ID, &e.Name, &e.Description, &e.Capacity, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetByID returns a single event or ErrNotFound.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*model.Event, error) {
	var e model.Event
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, capacity, created_at
		 FROM events WHERE id = $1`,
		id,
	).Scan(&e.ID, &e.Name, &e.Description, &e.Capacity, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// UpdateCapacity overwrites the stored capacity of an event.
func (r *EventRepository) UpdateCapacity(ctx context.Context, id string, capacity int) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE events SET capacity = $2 WHERE id = $1`,
		id, capacity,
	)
	if err != nil {
		return fmt.Errorf("update event capacity: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an event; its participations are removed by the
// ON DELETE CASCADE on the participations table.
func (r *EventRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ParticipationRepository handles persistence for participation
// records.
type ParticipationRepository struct {
	db *pgxpool.Pool
}

// NewParticipationRepository constructs a ParticipationRepository.
func NewParticipationRepository(db *pgxpool.Pool) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

// Exists reports whether an active participation record exists for
// the (user, event) pair.
func (r *ParticipationRepository) Exists(ctx context.Context, userID, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM participations WHERE user_id = $1 AND event_id = $2
		)`,
		userID, eventID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check participation: %w", err)
	}
	return exists, nil
}

// Create inserts a participation record for the (user, event) pair.
// A unique-constraint violation is reported as ErrDuplicate.
func (r *ParticipationRepository) Create(ctx context.Context, userID, eventID string) (*model.Participation, error) {
	p := &model.Participation{
		ID:        uuid.New().String(),
		UserID:    userID,
		EventID:   eventID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := r.db.Exec(ctx,
		`INSERT INTO participations (id, user_id, event_id, created_at)
		 VALUES ($1, $2, $3, $4)`,
		p.ID, p.UserID, p.EventID, p.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("insert participation: %w", err)
	}
	return p, nil
}

// DeleteByUserAndEvent removes the participation record for the
// (user, event) pair, reporting whether one was found and deleted.
func (r *ParticipationRepository) DeleteByUserAndEvent(ctx context.Context, userID, eventID string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM participations WHERE user_id = $1 AND event_id = $2`,
		userID, eventID,
	)
	if err != nil {
		return false, fmt.Errorf("delete participation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByEvent returns all participations for a given event.
func (r *ParticipationRepository) ListByEvent(ctx context.Context, eventID string) ([]model.Participation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, event_id, created_at
		 FROM participations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()
	return scanParticipations(rows)
}

// ListByUser returns all participations for a given user.
func (r *ParticipationRepository) ListByUser(ctx context.Context, userID string) ([]model.Participation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, event_id, created_at
		 FROM participations
		 WHERE user_id = $1
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list participations: %w", err)
	}
	defer rows.Close()
	return scanParticipations(rows)
}

// CountByEvent returns the number of participants for an event.
func (r *ParticipationRepository) CountByEvent(ctx context.Context, eventID string) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM participations WHERE event_id = $1`,
		eventID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participations: %w", err)
	}
	return count, nil
}

func scanParticipations(rows pgx.Rows) ([]model.Participation, error) {
	var participations []model.Participation
	for rows.Next() {
		var p model.Participation
		if err := rows.Scan(&p.ID, &p.UserID, &p.EventID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan participation: %w", err)
		}
		participations = append(participations, p)
	}
	return participations, rows.Err()
}
