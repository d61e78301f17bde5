package tokens

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("token not found")
	ErrExpired  = errors.New("token expired")
	ErrConsumed = errors.New("token already consumed")
)

// Purpose binds a token to exactly one account-state transition. A token
// issued for one purpose never validates under another.
type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposePasswordReset     Purpose = "password_reset"
)

// Token is the stored form of a single-use credential. Only the SHA-256
// hash of the opaque value is persisted; the plaintext exists solely in the
// email sent to the user.
type Token struct {
	ID         string
	UserID     string
	Purpose    Purpose
	TokenHash  string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// Consumed reports whether the token has already been used.
func (t *Token) Consumed() bool {
	return t.ConsumedAt != nil
}

// ExpiredAt reports whether the token is expired at the given time.
// A token whose expiry equals now is already expired, so a zero TTL
// produces a token that never validates.
func (t *Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type CreateParams struct {
	UserID    string
	Purpose   Purpose
	TokenHash string
	ExpiresAt time.Time
}

// Repository persists tokens. GetByHash must lock the returned row when
// called inside a transaction so two concurrent consumers of the same token
// serialize. The user mutations exist here so token consumption and the
// account-state side effect it authorizes can share one transaction.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Token, error)
	GetByHash(ctx context.Context, tokenHash string, purpose Purpose) (*Token, error)
	DeleteForUser(ctx context.Context, userID string, purpose Purpose) (int64, error)
	MarkConsumed(ctx context.Context, id string, at time.Time) error
	MarkUserVerified(ctx context.Context, userID string) error
	UpdateUserPassword(ctx context.Context, userID, passwordHash string) error
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)

	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}
