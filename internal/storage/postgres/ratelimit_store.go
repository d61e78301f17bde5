package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tudorilade/events-scheduler/internal/ratelimit"
)

// RateLimitStore is the shared-counter backend for the fixed-window
// limiter. The conditional upsert makes the check and the increment one
// atomic statement, so concurrent requests from the same client can never
// over-admit, and blocked requests leave the counter untouched.
type RateLimitStore struct {
	pool *pgxpool.Pool
}

func NewRateLimitStore(pool *pgxpool.Pool) *RateLimitStore {
	return &RateLimitStore{pool: pool}
}

func (s *RateLimitStore) Incr(ctx context.Context, key string, windowStart time.Time, threshold int) (int64, bool, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
INSERT INTO rate_limit_counters (client_key, window_start, count)
VALUES ($1, $2, 1)
ON CONFLICT (client_key, window_start)
DO UPDATE SET count = rate_limit_counters.count + 1
WHERE rate_limit_counters.count < $3
RETURNING count
`, key, windowStart, threshold).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("increment rate limit counter: %w", err)
	}

	// The conditional update declined: the counter is at or above the
	// threshold. Read it for the caller.
	err = s.pool.QueryRow(ctx,
		`SELECT count FROM rate_limit_counters WHERE client_key = $1 AND window_start = $2`,
		key, windowStart).Scan(&count)
	if err != nil {
		return 0, false, fmt.Errorf("read rate limit counter: %w", err)
	}
	return count, false, nil
}

// DeleteStale removes counters from windows that closed before the cutoff.
func (s *RateLimitStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM rate_limit_counters WHERE window_start < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete stale rate limit counters: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ ratelimit.CounterStore = (*RateLimitStore)(nil)
