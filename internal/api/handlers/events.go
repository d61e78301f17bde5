package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tudorilade/events-scheduler/internal/api/middleware"
	"github.com/tudorilade/events-scheduler/internal/api/problem"
	"github.com/tudorilade/events-scheduler/internal/auth"
	"github.com/tudorilade/events-scheduler/internal/domain/events"
	"github.com/tudorilade/events-scheduler/internal/domain/ids"
)

type EventsHandler struct {
	Service *events.Service
	Env     string
}

func NewEventsHandler(service *events.Service, env string) *EventsHandler {
	return &EventsHandler{Service: service, Env: env}
}

type listEventsResponse struct {
	Items      []map[string]any `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := middleware.SessionClaims(r)
	filters, pagination, err := parseEventFilters(r.URL.Query(), claims)
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request", err, h.Env)
		return
	}

	result, err := h.Service.List(r.Context(), filters, pagination)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Listing failed", err, h.Env)
		return
	}

	items := make([]map[string]any, 0, len(result.Events))
	for i := range result.Events {
		items = append(items, eventPayload(&result.Events[i]))
	}

	writeJSON(w, http.StatusOK, listEventsResponse{Items: items, NextCursor: result.NextCursor})
}

type createEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    *int      `json:"capacity"`
}

func (h *EventsHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req createEventRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}

	event, err := h.Service.Create(r.Context(), actor, events.CreateEventParams{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
	})
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.Is(err, events.ErrOwnerNotVerified):
			problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Email verification required", err, h.Env)
		case errors.As(err, &fieldErrors):
			writeValidationProblem(w, r, err, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Event creation failed", err, h.Env)
		}
		return
	}

	w.Header().Set("Location", "/api/v1/events/"+event.ULID)
	writeJSON(w, http.StatusCreated, eventPayload(event))
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	var viewerID string
	if claims := middleware.SessionClaims(r); claims != nil {
		viewerID = claims.Subject
	}

	event, joined, err := h.Service.GetForViewer(r.Context(), pathParam(r, "id"), viewerID)
	if err != nil {
		h.writeEventProblem(w, r, err, "Event lookup failed")
		return
	}

	payload := eventPayload(event)
	if viewerID != "" {
		payload["joined"] = joined
	}
	writeJSON(w, http.StatusOK, payload)
}

type updateEventRequest struct {
	Title         *string    `json:"title"`
	Description   *string    `json:"description"`
	StartsAt      *time.Time `json:"starts_at"`
	EndsAt        *time.Time `json:"ends_at"`
	Capacity      *int       `json:"capacity"`
	ClearCapacity bool       `json:"clear_capacity"`
}

func (h *EventsHandler) Update(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	var req updateEventRequest
	if !decodeJSON(w, r, h.Env, &req) {
		return
	}

	event, err := h.Service.Update(r.Context(), actor, pathParam(r, "id"), events.UpdateEventParams{
		Title:       req.Title,
		Description: req.Description,
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Capacity:    req.Capacity,
		ClearCap:    req.ClearCapacity,
	})
	if err != nil {
		var fieldErrors validator.ValidationErrors
		switch {
		case errors.As(err, &fieldErrors):
			writeValidationProblem(w, r, err, h.Env)
		case errors.Is(err, events.ErrNotFound), errors.Is(err, events.ErrNotOwner),
			errors.Is(err, events.ErrCapacityBelowParticipants):
			h.writeEventProblem(w, r, err, "Event update failed")
		default:
			problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Event update failed", err, h.Env)
		}
		return
	}

	writeJSON(w, http.StatusOK, eventPayload(event))
}

func (h *EventsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), actor, pathParam(r, "id")); err != nil {
		h.writeEventProblem(w, r, err, "Event deletion failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *EventsHandler) Join(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	if err := h.Service.Join(r.Context(), actor, pathParam(r, "id")); err != nil {
		h.writeEventProblem(w, r, err, "Join failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *EventsHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}

	if err := h.Service.Withdraw(r.Context(), actor, pathParam(r, "id")); err != nil {
		h.writeEventProblem(w, r, err, "Withdrawal failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *EventsHandler) requireActor(w http.ResponseWriter, r *http.Request) (events.Actor, bool) {
	claims := middleware.SessionClaims(r)
	if claims == nil {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Authentication required", auth.ErrMissingToken, h.Env)
		return events.Actor{}, false
	}
	return events.Actor{ID: claims.Subject, Verified: claims.Verified}, true
}

func (h *EventsHandler) writeEventProblem(w http.ResponseWriter, r *http.Request, err error, title string) {
	switch {
	case errors.Is(err, events.ErrNotFound):
		problem.Write(w, r, http.StatusNotFound, problem.TypeNotFound, "Event not found", err, h.Env)
	case errors.Is(err, events.ErrNotOwner):
		problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Only the owner may do that", err, h.Env)
	case errors.Is(err, events.ErrPastEvent):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Event has already ended", err, h.Env)
	case errors.Is(err, events.ErrCapacityExceeded):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Event is at capacity", err, h.Env)
	case errors.Is(err, events.ErrCapacityBelowParticipants):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Capacity below participant count", err, h.Env)
	case errors.Is(err, events.ErrAlreadyJoined):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Already joined", err, h.Env)
	case errors.Is(err, events.ErrNotAParticipant):
		problem.Write(w, r, http.StatusConflict, problem.TypeConflict, "Not a participant", err, h.Env)
	default:
		problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, title, err, h.Env)
	}
}

// parseEventFilters reads list query parameters. The mine and joined
// filters resolve against the session, so they require one.
func parseEventFilters(query url.Values, claims *auth.Claims) (events.Filters, events.Pagination, error) {
	var filters events.Filters
	var pagination events.Pagination

	if query.Get("mine") == "true" {
		if claims == nil {
			return filters, pagination, errors.New("mine filter requires authentication")
		}
		filters.OwnerID = claims.Subject
	}
	if query.Get("joined") == "true" {
		if claims == nil {
			return filters, pagination, errors.New("joined filter requires authentication")
		}
		filters.Joined = claims.Subject
	}

	if raw := query.Get("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, pagination, fmt.Errorf("invalid from timestamp: %w", err)
		}
		filters.From = &from
	}
	if raw := query.Get("until"); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, pagination, fmt.Errorf("invalid until timestamp: %w", err)
		}
		filters.Until = &until
	}

	filters.Query = query.Get("q")
	filters.IncludePast = query.Get("include_past") == "true"

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filters, pagination, errors.New("limit must be a positive integer")
		}
		pagination.Limit = limit
	}
	if after := query.Get("after"); after != "" {
		if err := ids.ValidateULID(after); err != nil {
			return filters, pagination, errors.New("invalid after cursor")
		}
		pagination.After = after
	}

	return filters, pagination, nil
}

func eventPayload(event *events.Event) map[string]any {
	payload := map[string]any{
		"id":                 event.ULID,
		"owner_id":           event.OwnerID,
		"title":              event.Title,
		"description":        event.Description,
		"starts_at":          event.StartsAt,
		"ends_at":            event.EndsAt,
		"participants_count": event.ParticipantsCount,
		"created_at":         event.CreatedAt,
		"updated_at":         event.UpdatedAt,
	}
	if event.Capacity != nil {
		payload["capacity"] = *event.Capacity
	}
	return payload
}
