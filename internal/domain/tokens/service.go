package tokens

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/metrics"
)

// Service issues and consumes single-use verification tokens.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "tokens").Logger(),
	}
}

// Issue creates a token for the user and purpose with expiry now+ttl.
// It returns the plaintext value for delivery to the user; only the hash
// is stored. Outstanding tokens for the same (user, purpose) are dropped
// in the same transaction, so only the most recently mailed link works.
func (s *Service) Issue(ctx context.Context, userID string, purpose Purpose, ttl time.Duration) (string, error) {
	value, err := generateSecureToken()
	if err != nil {
		return "", err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.DeleteForUser(ctx, userID, purpose); err != nil {
			return err
		}
		_, err := repo.Create(ctx, CreateParams{
			UserID:    userID,
			Purpose:   purpose,
			TokenHash: hashToken(value),
			ExpiresAt: time.Now().Add(ttl),
		})
		return err
	})
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}

	metrics.TokensIssued.WithLabelValues(string(purpose)).Inc()
	s.logger.Debug().Str("user_id", userID).Str("purpose", string(purpose)).Msg("token issued")
	return value, nil
}

// Consume validates the token value for the given purpose and, on success,
// marks it consumed and runs the side effect it authorizes inside the same
// transaction. Either both commit or neither does: a token is never burned
// without its effect, and an effect never applies twice.
//
// The effect receives the transaction-scoped repository and the token
// owner's user ID.
func (s *Service) Consume(ctx context.Context, value string, purpose Purpose, effect func(ctx context.Context, repo Repository, userID string) error) (string, error) {
	var userID string

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		token, err := repo.GetByHash(ctx, hashToken(value), purpose)
		if err != nil {
			return err
		}

		// Expiry wins over consumption: a token past its expiry reports
		// Expired no matter what state it is in.
		if token.ExpiredAt(time.Now()) {
			return ErrExpired
		}
		if token.Consumed() {
			return ErrConsumed
		}

		if err := repo.MarkConsumed(ctx, token.ID, time.Now()); err != nil {
			return fmt.Errorf("mark token consumed: %w", err)
		}

		userID = token.UserID
		if effect != nil {
			if err := effect(ctx, repo, token.UserID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.TokensConsumed.WithLabelValues(string(purpose), consumeResult(err)).Inc()
		return "", err
	}

	metrics.TokensConsumed.WithLabelValues(string(purpose), "ok").Inc()
	s.logger.Info().Str("user_id", userID).Str("purpose", string(purpose)).Msg("token consumed")
	return userID, nil
}

// CleanupExpired removes tokens whose expiry is older than the retention
// horizon. Expired tokens are already unusable; deletion only reclaims
// storage, so running this more than once is harmless.
func (s *Service) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	deleted, err := s.repo.DeleteExpired(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	if deleted > 0 {
		metrics.TokensDeleted.Add(float64(deleted))
		s.logger.Info().Int64("deleted", deleted).Msg("expired tokens cleaned up")
	}
	return deleted, nil
}

func consumeResult(err error) string {
	switch {
	case errors.Is(err, ErrExpired):
		return "expired"
	case errors.Is(err, ErrConsumed):
		return "consumed"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func generateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate random bytes: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// hashToken hashes a token value using SHA-256, returned as URL-safe base64.
func hashToken(value string) string {
	hash := sha256.Sum256([]byte(value))
	return base64.URLEncoding.EncodeToString(hash[:])
}
