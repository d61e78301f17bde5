package events

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/domain/ids"
	"github.com/tudorilade/events-scheduler/internal/metrics"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID       string
	Verified bool
}

// Service implements event CRUD and the join/withdraw participation rules.
type Service struct {
	repo      Repository
	logger    zerolog.Logger
	validator *validator.Validate
	sanitizer *bluemonday.Policy
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		logger:    logger.With().Str("component", "events").Logger(),
		validator: validator.New(),
		sanitizer: bluemonday.StrictPolicy(),
	}
}

type CreateEventParams struct {
	Title       string    `validate:"required,max=200"`
	Description string    `validate:"max=5000"`
	StartsAt    time.Time `validate:"required"`
	EndsAt      time.Time `validate:"required,gtfield=StartsAt"`
	Capacity    *int      `validate:"omitempty,gt=0"`
}

// Create makes a new event owned by the actor. Only verified accounts may
// create events.
func (s *Service) Create(ctx context.Context, actor Actor, params CreateEventParams) (*Event, error) {
	if !actor.Verified {
		return nil, ErrOwnerNotVerified
	}
	if err := s.validator.Struct(params); err != nil {
		return nil, err
	}

	ulid, err := ids.NewULID()
	if err != nil {
		return nil, err
	}

	event, err := s.repo.Create(ctx, CreateParams{
		ULID:        ulid,
		OwnerID:     actor.ID,
		Title:       s.sanitizer.Sanitize(params.Title),
		Description: s.sanitizer.Sanitize(params.Description),
		StartsAt:    params.StartsAt,
		EndsAt:      params.EndsAt,
		Capacity:    params.Capacity,
	})
	if err != nil {
		return nil, err
	}

	metrics.EventsCreated.Inc()
	s.logger.Info().Str("event", event.ULID).Str("owner", actor.ID).Msg("event created")
	return event, nil
}

// Get loads a single event by its public ULID.
func (s *Service) Get(ctx context.Context, ulid string) (*Event, error) {
	if err := ids.ValidateULID(ulid); err != nil {
		return nil, ErrNotFound
	}
	return s.repo.GetByULID(ctx, ulid)
}

// GetForViewer loads an event and reports whether the viewer participates.
// An empty viewer ID skips the participation lookup.
func (s *Service) GetForViewer(ctx context.Context, ulid, viewerID string) (*Event, bool, error) {
	event, err := s.Get(ctx, ulid)
	if err != nil {
		return nil, false, err
	}
	if viewerID == "" {
		return event, false, nil
	}
	joined, err := s.repo.IsParticipant(ctx, event.ID, viewerID)
	if err != nil {
		return nil, false, err
	}
	return event, joined, nil
}

// List returns events matching the filters, upcoming first.
func (s *Service) List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error) {
	if pagination.Limit <= 0 || pagination.Limit > 100 {
		pagination.Limit = 50
	}
	return s.repo.List(ctx, filters, pagination)
}

type UpdateEventParams struct {
	Title       *string    `validate:"omitempty,max=200"`
	Description *string    `validate:"omitempty,max=5000"`
	StartsAt    *time.Time `validate:"omitempty"`
	EndsAt      *time.Time `validate:"omitempty"`
	Capacity    *int       `validate:"omitempty,gt=0"`
	ClearCap    bool
}

// Update edits event fields. Only the owner may edit, and the resulting
// time window must stay valid. Capacity changes run with the event row
// locked so the new bound is checked against the live participant count.
func (s *Service) Update(ctx context.Context, actor Actor, ulid string, params UpdateEventParams) (*Event, error) {
	if err := s.validator.Struct(params); err != nil {
		return nil, err
	}
	if err := ids.ValidateULID(ulid); err != nil {
		return nil, ErrNotFound
	}

	var updated *Event
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		event, err := repo.GetByULIDForUpdate(ctx, ulid)
		if err != nil {
			return err
		}
		if event.OwnerID != actor.ID {
			return ErrNotOwner
		}

		startsAt := event.StartsAt
		if params.StartsAt != nil {
			startsAt = *params.StartsAt
		}
		endsAt := event.EndsAt
		if params.EndsAt != nil {
			endsAt = *params.EndsAt
		}
		if !endsAt.After(startsAt) {
			return errors.New("event must end after it starts")
		}

		if params.Capacity != nil {
			count, err := repo.CountParticipants(ctx, event.ID)
			if err != nil {
				return err
			}
			if *params.Capacity < count {
				return ErrCapacityBelowParticipants
			}
		}

		update := UpdateParams{
			StartsAt: params.StartsAt,
			EndsAt:   params.EndsAt,
			Capacity: params.Capacity,
			ClearCap: params.ClearCap,
		}
		if params.Title != nil {
			title := s.sanitizer.Sanitize(*params.Title)
			update.Title = &title
		}
		if params.Description != nil {
			description := s.sanitizer.Sanitize(*params.Description)
			update.Description = &description
		}

		updated, err = repo.Update(ctx, event.ID, update)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes an event and, by cascade, its participations. Past events
// are kept for the record and cannot be deleted.
func (s *Service) Delete(ctx context.Context, actor Actor, ulid string) error {
	event, err := s.Get(ctx, ulid)
	if err != nil {
		return err
	}
	if event.OwnerID != actor.ID {
		return ErrNotOwner
	}
	if event.Ended(time.Now()) {
		return ErrPastEvent
	}

	if err := s.repo.Delete(ctx, event.ID); err != nil {
		return err
	}
	s.logger.Info().Str("event", ulid).Str("owner", actor.ID).Msg("event deleted")
	return nil
}

// Join adds the actor as a participant. The capacity check and the insert
// run in one transaction with the event row locked, so two concurrent joins
// cannot both take the last slot; the (event, user) unique constraint
// backstops duplicate joins.
func (s *Service) Join(ctx context.Context, actor Actor, ulid string) error {
	if err := ids.ValidateULID(ulid); err != nil {
		return ErrNotFound
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		event, err := repo.GetByULIDForUpdate(ctx, ulid)
		if err != nil {
			return err
		}
		if event.Ended(time.Now()) {
			return ErrPastEvent
		}

		if event.Capacity != nil {
			count, err := repo.CountParticipants(ctx, event.ID)
			if err != nil {
				return err
			}
			if count >= *event.Capacity {
				return ErrCapacityExceeded
			}
		}

		return repo.InsertParticipation(ctx, event.ID, actor.ID)
	})

	metrics.ParticipationAttempts.WithLabelValues("join", joinResult(err)).Inc()
	if err != nil {
		return err
	}
	s.logger.Info().Str("event", ulid).Str("user", actor.ID).Msg("joined event")
	return nil
}

// Withdraw removes the actor's participation.
func (s *Service) Withdraw(ctx context.Context, actor Actor, ulid string) error {
	event, err := s.Get(ctx, ulid)
	if err != nil {
		metrics.ParticipationAttempts.WithLabelValues("withdraw", "error").Inc()
		return err
	}

	deleted, err := s.repo.DeleteParticipation(ctx, event.ID, actor.ID)
	if err != nil {
		metrics.ParticipationAttempts.WithLabelValues("withdraw", "error").Inc()
		return err
	}
	if !deleted {
		metrics.ParticipationAttempts.WithLabelValues("withdraw", "not_participant").Inc()
		return ErrNotAParticipant
	}

	metrics.ParticipationAttempts.WithLabelValues("withdraw", "ok").Inc()
	s.logger.Info().Str("event", ulid).Str("user", actor.ID).Msg("withdrew from event")
	return nil
}

func joinResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCapacityExceeded):
		return "full"
	case errors.Is(err, ErrAlreadyJoined):
		return "duplicate"
	default:
		return "error"
	}
}
