// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reservehq/event-reservation/internal/capacity"
	"github.com/reservehq/event-reservation/internal/dlock"
	"github.com/reservehq/event-reservation/internal/model"
	"github.com/reservehq/event-reservation/internal/repository"
	"github.com/reservehq/event-reservation/internal/service"
)

// EventHandler holds all HTTP handlers for the reservation API.
type EventHandler struct {
	events       *service.EventService
	reservations *service.ReservationService
}

// NewEventHandler constructs an EventHandler.
func NewEventHandler(events *service.EventService, reservations *service.ReservationService) *EventHandler {
	return &EventHandler{events: events, reservations: reservations}
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// ─── Event handlers ───────────────────────────────────────────────────────────

// CreateEvent handles POST /events
// Creates a new event and seeds its capacity counter.
func (h *EventHandler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	event, err := h.events.CreateEvent(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to create event")
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// ListEvents handles GET /events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.events.ListEvents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	// Return an empty array rather than null for better client compatibility.
	if events == nil {
		events = []model.Event{}
	}

	writeJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /events/{id}
func (h *EventHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	event, err := h.events.GetEvent(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get event")
		return
	}

	writeJSON(w, http.StatusOK, event)
}

// DeleteEvent handles DELETE /events/{id}
// Removes the event, its participations, and its capacity counter.
func (h *EventHandler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.events.DeleteEvent(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to delete event")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetCapacity handles GET /events/{id}/capacity
// Returns the remaining open slots for an event.
func (h *EventHandler) GetCapacity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	remaining, err := h.events.RemainingCapacity(r.Context(), id)
	if err != nil {
		if errors.Is(err, capacity.ErrNotInitialized) {
			writeError(w, http.StatusNotFound, "capacity not initialized for this event")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read capacity")
		return
	}

	writeJSON(w, http.StatusOK, model.CapacityResponse{Remaining: remaining})
}

// UpdateCapacity handles PUT /events/{id}/capacity
// Administrative overwrite of an event's capacity.
func (h *EventHandler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.UpdateCapacityRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := h.events.UpdateCapacity(r.Context(), id, req.Capacity); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to update capacity")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ─── Reservation handlers ─────────────────────────────────────────────────────

// Join handles POST /events/{id}/participants
// Performs a concurrency-safe registration for the specified event.
func (h *EventHandler) Join(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req model.JoinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	p, err := h.reservations.Join(r.Context(), req.UserID, id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEventFull):
			writeError(w, http.StatusConflict, "event is full")
		case errors.Is(err, service.ErrAlreadyRegistered):
			writeError(w, http.StatusConflict, "you are already registered for this event")
		case errors.Is(err, capacity.ErrNotInitialized):
			writeError(w, http.StatusNotFound, "event not found")
		case errors.Is(err, dlock.ErrLockUnavailable):
			writeError(w, http.StatusServiceUnavailable, "event is busy, please try again")
		case errors.Is(err, service.ErrPersistence):
			writeError(w, http.StatusInternalServerError, "registration could not be saved")
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to join event")
		}
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// Leave handles DELETE /events/{id}/participants/{userID}
// Removes a registration and frees the slot.
func (h *EventHandler) Leave(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := chi.URLParam(r, "userID")

	if err := h.reservations.Leave(r.Context(), userID, id); err != nil {
		switch {
		case errors.Is(err, service.ErrNotRegistered):
			writeError(w, http.StatusNotFound, "you are not registered for this event")
		case errors.Is(err, dlock.ErrLockUnavailable):
			writeError(w, http.StatusServiceUnavailable, "event is busy, please try again")
		case errors.Is(err, service.ErrPersistence):
			writeError(w, http.StatusInternalServerError, "registration could not be removed")
		case errors.Is(err, service.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, "failed to leave event")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListParticipants handles GET /events/{id}/participants
func (h *EventHandler) ListParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	participants, err := h.events.ListParticipants(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list participants")
		return
	}

	if participants == nil {
		participants = []model.Participation{}
	}

	writeJSON(w, http.StatusOK, participants)
}

// CountParticipants handles GET /events/{id}/participants/count
func (h *EventHandler) CountParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	count, err := h.events.ParticipantCount(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to count participants")
		return
	}

	writeJSON(w, http.StatusOK, model.ParticipantCountResponse{Count: count})
}

// ListUserParticipations handles GET /users/{userID}/participations
func (h *EventHandler) ListUserParticipations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	participations, err := h.events.ListUserParticipations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list participations")
		return
	}

	if participations == nil {
		participations = []model.Participation{}
	}

	writeJSON(w, http.StatusOK, participations)
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
