package users

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrEmailTaken         = errors.New("email is already taken")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrDisabled           = errors.New("account is disabled")
	ErrAlreadyVerified    = errors.New("email is already verified")
)

// User is an account holder. Accounts are never hard-deleted; deactivation
// flips IsActive so authored events keep a valid owner reference.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FullName     string
	IsVerified   bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type CreateParams struct {
	Email        string
	PasswordHash string
	FullName     string
}

type UpdateParams struct {
	Email      *string
	FullName   *string
	IsVerified *bool
}

// Repository persists user accounts. Create returns ErrEmailTaken when the
// email unique constraint fires; the constraint is the final arbiter under
// concurrent registrations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	Update(ctx context.Context, id string, params UpdateParams) (*User, error)
	Deactivate(ctx context.Context, id string) error
}
