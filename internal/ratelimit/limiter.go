// Package ratelimit implements a fixed-window request limiter keyed by
// client identity. Counters live in a shared store (in-memory or Postgres)
// so multiple server instances observe the same window state.
package ratelimit

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tudorilade/events-scheduler/internal/metrics"
)

// CounterStore persists per-client request counters. Implementations must
// make the increment conditional and atomic: the counter for (key, window)
// is incremented only while it is below threshold, and two concurrent calls
// must never both observe the same pre-increment count.
type CounterStore interface {
	// Incr increments the counter for the given key and window start if the
	// current count is below threshold. It returns the count after the call
	// and whether the increment was applied.
	Incr(ctx context.Context, key string, windowStart time.Time, threshold int) (int64, bool, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter admits or blocks requests per client within fixed windows.
// Window key is now truncated to the window length, so counters reset
// implicitly at each window boundary.
type Limiter struct {
	store     CounterStore
	threshold int
	window    time.Duration
	failOpen  bool
	logger    zerolog.Logger
}

func New(store CounterStore, threshold int, window time.Duration, failOpen bool, logger zerolog.Logger) *Limiter {
	return &Limiter{
		store:     store,
		threshold: threshold,
		window:    window,
		failOpen:  failOpen,
		logger:    logger.With().Str("component", "ratelimit").Logger(),
	}
}

// Admit decides whether a request from clientID may proceed at the given
// time. Allowed requests consume one slot in the current window; blocked
// requests leave the counter untouched. When the counter store is
// unreachable the configured failure policy applies: fail-open admits the
// request, fail-closed blocks it for the remainder of the window.
func (l *Limiter) Admit(ctx context.Context, clientID string, now time.Time) Decision {
	if l.threshold <= 0 {
		return Decision{Allowed: true}
	}

	windowStart := now.Truncate(l.window)
	retryAfter := windowStart.Add(l.window).Sub(now)

	count, admitted, err := l.store.Incr(ctx, clientID, windowStart, l.threshold)
	if err != nil {
		metrics.RateLimitStoreErrors.Inc()
		if l.failOpen {
			metrics.RateLimitDecisions.WithLabelValues("fail_open").Inc()
			l.logger.Warn().Err(err).Str("client", clientID).Msg("counter store unreachable, admitting request")
			return Decision{Allowed: true, Remaining: l.threshold}
		}
		metrics.RateLimitDecisions.WithLabelValues("fail_closed").Inc()
		l.logger.Error().Err(err).Str("client", clientID).Msg("counter store unreachable, blocking request")
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	if !admitted {
		metrics.RateLimitDecisions.WithLabelValues("blocked").Inc()
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	remaining := l.threshold - int(count)
	if remaining < 0 {
		remaining = 0
	}
	metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	return Decision{Allowed: true, Remaining: remaining}
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}
