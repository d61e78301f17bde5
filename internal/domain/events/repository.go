package events

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound                  = errors.New("event not found")
	ErrNotOwner                  = errors.New("not the event owner")
	ErrAlreadyJoined             = errors.New("already joined this event")
	ErrCapacityExceeded          = errors.New("event is at capacity")
	ErrNotAParticipant           = errors.New("not a participant of this event")
	ErrPastEvent                 = errors.New("event has already ended")
	ErrCapacityBelowParticipants = errors.New("capacity is below the current participant count")
	ErrOwnerNotVerified          = errors.New("email verification required")
)

// Event is a scheduled gathering. Capacity, when set, is a hard upper bound
// on live participations.
type Event struct {
	ID                string
	ULID              string
	OwnerID           string
	Title             string
	Description       string
	StartsAt          time.Time
	EndsAt            time.Time
	Capacity          *int
	ParticipantsCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Ended reports whether the event is over at the given time.
func (e *Event) Ended(now time.Time) bool {
	return e.EndsAt.Before(now)
}

// Full reports whether the event has no free slots left.
func (e *Event) Full() bool {
	return e.Capacity != nil && e.ParticipantsCount >= *e.Capacity
}

type Participation struct {
	EventID  string
	UserID   string
	JoinedAt time.Time
}

type CreateParams struct {
	ULID        string
	OwnerID     string
	Title       string
	Description string
	StartsAt    time.Time
	EndsAt      time.Time
	Capacity    *int
}

type UpdateParams struct {
	Title       *string
	Description *string
	StartsAt    *time.Time
	EndsAt      *time.Time
	Capacity    *int
	ClearCap    bool
}

type Filters struct {
	OwnerID     string
	Joined      string // user ID; only events this user participates in
	From        *time.Time
	Until       *time.Time
	Query       string
	IncludePast bool
}

type Pagination struct {
	Limit int
	After string // ULID cursor
}

type ListResult struct {
	Events     []Event
	NextCursor string
}

// Repository persists events and participations. InsertParticipation must
// return ErrAlreadyJoined when the (event, user) unique constraint fires;
// the constraint is the final arbiter under concurrent joins.
// GetByULIDForUpdate must lock the event row when called inside a
// transaction so concurrent capacity checks serialize.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Event, error)
	GetByULID(ctx context.Context, ulid string) (*Event, error)
	GetByULIDForUpdate(ctx context.Context, ulid string) (*Event, error)
	List(ctx context.Context, filters Filters, pagination Pagination) (ListResult, error)
	Update(ctx context.Context, id string, params UpdateParams) (*Event, error)
	Delete(ctx context.Context, id string) error

	CountParticipants(ctx context.Context, eventID string) (int, error)
	IsParticipant(ctx context.Context, eventID, userID string) (bool, error)
	InsertParticipation(ctx context.Context, eventID, userID string) error
	DeleteParticipation(ctx context.Context, eventID, userID string) (bool, error)

	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}
