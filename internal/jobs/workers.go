package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/riverqueue/river"

	"github.com/tudorilade/events-scheduler/internal/domain/tokens"
	"github.com/tudorilade/events-scheduler/internal/domain/users"
	"github.com/tudorilade/events-scheduler/internal/email"
	"github.com/tudorilade/events-scheduler/internal/metrics"
)

// VerificationEmailArgs carries a pending verification email. The token
// travels in the payload because only its hash is stored.
type VerificationEmailArgs struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

func (VerificationEmailArgs) Kind() string { return JobKindVerificationEmail }

// VerificationEmailWorker delivers verification emails. Re-running it sends
// the same single-use link again, so duplicate execution is harmless.
type VerificationEmailWorker struct {
	river.WorkerDefaults[VerificationEmailArgs]
	Emails  *email.Service
	Users   users.Repository
	BaseURL string
	TTL     time.Duration
}

func (w *VerificationEmailWorker) Work(ctx context.Context, job *river.Job[VerificationEmailArgs]) error {
	fullName := w.lookupName(ctx, job.Args.UserID)
	link := w.BaseURL + "/verify-email?token=" + url.QueryEscape(job.Args.Token)
	if err := w.Emails.SendVerification(ctx, job.Args.Email, fullName, link, humanDuration(w.TTL)); err != nil {
		return fmt.Errorf("send verification email: %w", err)
	}
	return nil
}

func (w *VerificationEmailWorker) lookupName(ctx context.Context, userID string) string {
	user, err := w.Users.GetByID(ctx, userID)
	if err != nil {
		return ""
	}
	return user.FullName
}

// PasswordResetEmailArgs carries a pending password reset email.
type PasswordResetEmailArgs struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Token  string `json:"token"`
}

func (PasswordResetEmailArgs) Kind() string { return JobKindPasswordResetEmail }

type PasswordResetEmailWorker struct {
	river.WorkerDefaults[PasswordResetEmailArgs]
	Emails  *email.Service
	Users   users.Repository
	BaseURL string
	TTL     time.Duration
}

func (w *PasswordResetEmailWorker) Work(ctx context.Context, job *river.Job[PasswordResetEmailArgs]) error {
	var fullName string
	if user, err := w.Users.GetByID(ctx, job.Args.UserID); err == nil {
		fullName = user.FullName
	}
	link := w.BaseURL + "/reset-password?token=" + url.QueryEscape(job.Args.Token)
	if err := w.Emails.SendPasswordReset(ctx, job.Args.Email, fullName, link, humanDuration(w.TTL)); err != nil {
		return fmt.Errorf("send password reset email: %w", err)
	}
	return nil
}

// TokenCleanupArgs defines the periodic sweep of expired tokens.
type TokenCleanupArgs struct{}

func (TokenCleanupArgs) Kind() string { return JobKindTokenCleanup }

// TokenCleanupWorker deletes expired verification tokens. Expired tokens
// already fail validation, so the sweep only reclaims storage.
type TokenCleanupWorker struct {
	river.WorkerDefaults[TokenCleanupArgs]
	Tokens *tokens.Service
	// Retention keeps recently expired tokens around so a validation
	// attempt shortly after expiry still reports Expired, not NotFound.
	Retention time.Duration
}

func (w *TokenCleanupWorker) Work(ctx context.Context, job *river.Job[TokenCleanupArgs]) error {
	if w.Tokens == nil {
		return errors.New("token service not configured")
	}

	start := time.Now()
	_, err := w.Tokens.CleanupExpired(ctx, w.Retention)
	metrics.CleanupDuration.WithLabelValues("token_cleanup").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CleanupErrors.WithLabelValues("token_cleanup").Inc()
		return err
	}
	return nil
}

// StaleCounterStore deletes rate limit counters from closed windows.
type StaleCounterStore interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// RateLimitCleanupArgs defines the periodic sweep of stale counters.
type RateLimitCleanupArgs struct{}

func (RateLimitCleanupArgs) Kind() string { return JobKindRateLimitCleanup }

// RateLimitCleanupWorker drops counters whose window closed. Counters are
// keyed by window start, so stale rows are dead weight the moment the
// window rolls over.
type RateLimitCleanupWorker struct {
	river.WorkerDefaults[RateLimitCleanupArgs]
	Store  StaleCounterStore
	Window time.Duration
}

func (w *RateLimitCleanupWorker) Work(ctx context.Context, job *river.Job[RateLimitCleanupArgs]) error {
	if w.Store == nil {
		return errors.New("counter store not configured")
	}

	window := w.Window
	if window <= 0 {
		window = time.Hour
	}

	start := time.Now()
	deleted, err := w.Store.DeleteStale(ctx, time.Now().Truncate(window).Add(-window))
	metrics.CleanupDuration.WithLabelValues("rate_limit_cleanup").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.CleanupErrors.WithLabelValues("rate_limit_cleanup").Inc()
		return err
	}
	if deleted > 0 {
		metrics.RateLimitCountersDeleted.Add(float64(deleted))
	}
	return nil
}

// WorkerDeps bundles everything the workers need. BaseURL is the public
// address links in outgoing emails point at.
type WorkerDeps struct {
	Emails          *email.Service
	Users           users.Repository
	Tokens          *tokens.Service
	Counters        StaleCounterStore
	BaseURL         string
	VerificationTTL time.Duration
	ResetTTL        time.Duration
	RateLimitWindow time.Duration
	TokenRetention  time.Duration
}

func NewWorkers(deps WorkerDeps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker(workers, &VerificationEmailWorker{
		Emails:  deps.Emails,
		Users:   deps.Users,
		BaseURL: deps.BaseURL,
		TTL:     deps.VerificationTTL,
	})
	river.AddWorker(workers, &PasswordResetEmailWorker{
		Emails:  deps.Emails,
		Users:   deps.Users,
		BaseURL: deps.BaseURL,
		TTL:     deps.ResetTTL,
	})
	river.AddWorker(workers, &TokenCleanupWorker{
		Tokens:    deps.Tokens,
		Retention: deps.TokenRetention,
	})
	river.AddWorker(workers, &RateLimitCleanupWorker{
		Store:  deps.Counters,
		Window: deps.RateLimitWindow,
	})
	return workers
}

func humanDuration(d time.Duration) string {
	if d <= 0 {
		return "a short while"
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	hours := int(d.Hours())
	if hours == 1 {
		return "1 hour"
	}
	return fmt.Sprintf("%d hours", hours)
}
