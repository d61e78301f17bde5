package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
)

type TokenRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const tokenColumns = `id, user_id, purpose, token_hash, created_at, expires_at, consumed_at`

func (r *TokenRepository) Create(ctx context.Context, params tokens.CreateParams) (*tokens.Token, error) {
	row := pick(r.pool, r.tx).QueryRow(ctx, `
INSERT INTO verification_tokens (user_id, purpose, token_hash, expires_at)
VALUES ($1, $2, $3, $4)
RETURNING `+tokenColumns,
		params.UserID, string(params.Purpose), params.TokenHash, params.ExpiresAt)

	token, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}
	return token, nil
}

// GetByHash looks a token up by hash and purpose. Inside a transaction the
// row is locked so two concurrent consumers of the same token serialize on
// the consumed check.
func (r *TokenRepository) GetByHash(ctx context.Context, tokenHash string, purpose tokens.Purpose) (*tokens.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM verification_tokens WHERE token_hash = $1 AND purpose = $2`
	if r.tx != nil {
		query += ` FOR UPDATE`
	}

	token, err := scanToken(pick(r.pool, r.tx).QueryRow(ctx, query, tokenHash, string(purpose)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tokens.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return token, nil
}

func (r *TokenRepository) DeleteForUser(ctx context.Context, userID string, purpose tokens.Purpose) (int64, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`DELETE FROM verification_tokens WHERE user_id = $1 AND purpose = $2`, userID, string(purpose))
	if err != nil {
		return 0, fmt.Errorf("delete user tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`UPDATE verification_tokens SET consumed_at = $2 WHERE id = $1 AND consumed_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("mark token consumed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return tokens.ErrConsumed
	}
	return nil
}

func (r *TokenRepository) MarkUserVerified(ctx context.Context, userID string) error {
	_, err := pick(r.pool, r.tx).Exec(ctx,
		`UPDATE users SET is_verified = TRUE, updated_at = now() WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("mark user verified: %w", err)
	}
	return nil
}

func (r *TokenRepository) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := pick(r.pool, r.tx).Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	return nil
}

func (r *TokenRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx,
		`DELETE FROM verification_tokens WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) WithTx(ctx context.Context, fn func(context.Context, tokens.Repository) error) error {
	if r.tx != nil {
		return fn(ctx, r)
	}
	return runInTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &TokenRepository{pool: r.pool, tx: tx})
	})
}

func scanToken(row pgx.Row) (*tokens.Token, error) {
	var t tokens.Token
	var purpose string
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&purpose,
		&t.TokenHash,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.ConsumedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Purpose = tokens.Purpose(purpose)
	return &t, nil
}
