// Package model defines the core domain types for the event
// reservation system.
package model

import "time"

// Event represents a capacity-limited activity users can join.
// The remaining-slots counter lives in Redis, not on this struct;
// Capacity is the initial value the counter was seeded with.
type Event struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Capacity    int       `json:"capacity"`
	CreatedAt   time.Time `json:"created_at"`
}

// Participation is the durable record that a user is registered for
// an event. At most one active record exists per (user, event) pair.
type Participation struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateEventRequest is the payload for creating a new event.
type CreateEventRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Capacity    int    `json:"capacity"`
}

// UpdateCapacityRequest is the payload for an administrative
// capacity correction.
type UpdateCapacityRequest struct {
	Capacity int `json:"capacity"`
}

// JoinRequest is the payload for joining an event.
type JoinRequest struct {
	UserID string `json:"user_id"`
}

// CapacityResponse reports the remaining open slots for an event.
type CapacityResponse struct {
	Remaining int64 `json:"remaining"`
}

// ParticipantCountResponse reports the number of participants
// registered for an event.
type ParticipantCountResponse struct {
	Count int64 `json:"count"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
