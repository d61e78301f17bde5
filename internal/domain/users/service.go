package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/auth"
	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/metrics"
)

// TokenIssuer is the slice of the token service the user flows need.
type TokenIssuer interface {
	Issue(ctx context.Context, userID string, purpose tokens.Purpose, ttl time.Duration) (string, error)
	Consume(ctx context.Context, value string, purpose tokens.Purpose, effect func(ctx context.Context, repo tokens.Repository, userID string) error) (string, error)
}

// TaskQueue enqueues asynchronous email deliveries. Implementations must
// tolerate duplicate execution of the enqueued task.
type TaskQueue interface {
	EnqueueVerificationEmail(ctx context.Context, userID, email, token string) error
	EnqueuePasswordResetEmail(ctx context.Context, userID, email, token string) error
}

// Service handles registration, login, email verification, and password
// reset flows.
type Service struct {
	repo            Repository
	tokens          TokenIssuer
	queue           TaskQueue
	verificationTTL time.Duration
	resetTTL        time.Duration
	logger          zerolog.Logger
	validator       *validator.Validate
}

func NewService(repo Repository, issuer TokenIssuer, queue TaskQueue, verificationTTL, resetTTL time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		repo:            repo,
		tokens:          issuer,
		queue:           queue,
		verificationTTL: verificationTTL,
		resetTTL:        resetTTL,
		logger:          logger.With().Str("component", "users").Logger(),
		validator:       validator.New(),
	}
}

type RegisterParams struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
	FullName string `validate:"required,max=200"`
}

// Register creates an unverified account and queues a verification email.
// The account can log in immediately but cannot create events until the
// email is verified.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*User, error) {
	params.Email = normalizeEmail(params.Email)
	if err := s.validator.Struct(params); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(params.Password)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.Create(ctx, CreateParams{
		Email:        params.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(params.FullName),
	})
	if err != nil {
		return nil, err
	}

	metrics.UsersRegistered.Inc()
	s.logger.Info().Str("user_id", user.ID).Msg("user registered")

	if err := s.sendVerification(ctx, user); err != nil {
		// The account exists either way; the user can request a resend.
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to queue verification email")
	}
	return user, nil
}

// Login checks credentials and returns the account. Unknown emails and
// wrong passwords produce the same error so callers cannot probe for
// registered addresses.
func (s *Service) Login(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.CheckPassword(user.PasswordHash, password); err != nil {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrDisabled
	}
	return user, nil
}

// VerifyEmail consumes a verification token and marks its owner verified in
// the same transaction.
func (s *Service) VerifyEmail(ctx context.Context, tokenValue string) (*User, error) {
	userID, err := s.tokens.Consume(ctx, tokenValue, tokens.PurposeEmailVerification,
		func(ctx context.Context, repo tokens.Repository, userID string) error {
			return repo.MarkUserVerified(ctx, userID)
		})
	if err != nil {
		return nil, err
	}

	metrics.UsersVerified.Inc()
	s.logger.Info().Str("user_id", userID).Msg("email verified")
	return s.repo.GetByID(ctx, userID)
}

// ResendVerification issues a fresh verification token for the account and
// queues the email again.
func (s *Service) ResendVerification(ctx context.Context, userID string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.IsVerified {
		return ErrAlreadyVerified
	}
	return s.sendVerification(ctx, user)
}

// RequestPasswordReset issues a reset token and queues the email. Unknown
// emails return nil for the same anti-enumeration reason as above.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.repo.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if !user.IsActive {
		return nil
	}

	value, err := s.tokens.Issue(ctx, user.ID, tokens.PurposePasswordReset, s.resetTTL)
	if err != nil {
		return err
	}
	return s.queue.EnqueuePasswordResetEmail(ctx, user.ID, user.Email, value)
}

// ConfirmPasswordReset consumes a reset token and stores the new password
// hash in the same transaction.
func (s *Service) ConfirmPasswordReset(ctx context.Context, tokenValue, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	userID, err := s.tokens.Consume(ctx, tokenValue, tokens.PurposePasswordReset,
		func(ctx context.Context, repo tokens.Repository, userID string) error {
			return repo.UpdateUserPassword(ctx, userID, hash)
		})
	if err != nil {
		return err
	}

	s.logger.Info().Str("user_id", userID).Msg("password reset")
	return nil
}

type ProfileUpdateParams struct {
	Email    *string `validate:"omitempty,email,max=254"`
	FullName *string `validate:"omitempty,max=200"`
}

// UpdateProfile changes profile fields. Changing the email address drops
// verified status and starts a new verification round for the new address.
func (s *Service) UpdateProfile(ctx context.Context, userID string, params ProfileUpdateParams) (*User, error) {
	if err := s.validator.Struct(params); err != nil {
		return nil, err
	}

	current, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	update := UpdateParams{FullName: params.FullName}
	emailChanged := false
	if params.Email != nil {
		email := normalizeEmail(*params.Email)
		if email != current.Email {
			emailChanged = true
			unverified := false
			update.Email = &email
			update.IsVerified = &unverified
		}
	}

	user, err := s.repo.Update(ctx, userID, update)
	if err != nil {
		return nil, err
	}

	if emailChanged {
		if err := s.sendVerification(ctx, user); err != nil {
			s.logger.Error().Err(err).Str("user_id", user.ID).Msg("failed to queue verification email")
		}
	}
	return user, nil
}

// GetByID loads a user account.
func (s *Service) GetByID(ctx context.Context, userID string) (*User, error) {
	return s.repo.GetByID(ctx, userID)
}

// Deactivate soft-disables the account.
func (s *Service) Deactivate(ctx context.Context, userID string) error {
	if err := s.repo.Deactivate(ctx, userID); err != nil {
		return err
	}
	s.logger.Info().Str("user_id", userID).Msg("account deactivated")
	return nil
}

func (s *Service) sendVerification(ctx context.Context, user *User) error {
	value, err := s.tokens.Issue(ctx, user.ID, tokens.PurposeEmailVerification, s.verificationTTL)
	if err != nil {
		return fmt.Errorf("issue verification token: %w", err)
	}
	return s.queue.EnqueueVerificationEmail(ctx, user.ID, user.Email, value)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
