package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"

	"github.com/tudorilade/events-scheduler/internal/config"
)

const (
	JobKindVerificationEmail  = "verification_email"
	JobKindPasswordResetEmail = "password_reset_email"
	JobKindTokenCleanup       = "token_cleanup"
	JobKindRateLimitCleanup   = "rate_limit_cleanup"
)

// EmailMaxAttempts bounds redelivery of transactional emails. Handlers are
// idempotent with respect to account state (tokens are single-use), so the
// worst case of a retry is a duplicate message, never a duplicate effect.
const EmailMaxAttempts = 3

// CleanupMaxAttempts is low because cleanup reruns on its own cadence; a
// failed sweep is retried by the next scheduled one anyway.
const CleanupMaxAttempts = 2

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy returns the default retry policy configuration.
func NewRetryPolicy(emailMaxAttempts int) *RetryPolicy {
	if emailMaxAttempts <= 0 {
		emailMaxAttempts = EmailMaxAttempts
	}
	emailRetry := RetryConfig{
		MaxAttempts: emailMaxAttempts,
		BaseDelay:   30 * time.Second,
		MaxDelay:    10 * time.Minute,
	}
	cleanupRetry := RetryConfig{
		MaxAttempts: CleanupMaxAttempts,
		BaseDelay:   1 * time.Minute,
		MaxDelay:    5 * time.Minute,
	}
	return &RetryPolicy{
		Default: emailRetry,
		ByKind: map[string]RetryConfig{
			JobKindVerificationEmail:  emailRetry,
			JobKindPasswordResetEmail: emailRetry,
			JobKindTokenCleanup:       cleanupRetry,
			JobKindRateLimitCleanup:   cleanupRetry,
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	config := p.configFor(job.Kind)
	if config.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(config.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}
	return time.Now().Add(delay)
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: EmailMaxAttempts, BaseDelay: 30 * time.Second, MaxDelay: 10 * time.Minute}
	}
	if config, ok := p.ByKind[kind]; ok {
		return config
	}
	return p.Default
}

// NewClientConfig builds a River client configuration with the retry policy
// and the periodic cleanup schedule.
func NewClientConfig(cfg config.JobsConfig, workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook) *river.Config {
	policy := NewRetryPolicy(cfg.RetryEmail)
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	riverConfig := &river.Config{
		Workers:      workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: NewPeriodicJobs(cfg),
		JobTimeout:   cfg.JobTimeout.Std(),
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Hooks: hooks,
	}
	if logger != nil {
		riverConfig.Logger = logger
		riverConfig.ErrorHandler = NewAlertingErrorHandler(logger, nil)
	}
	return riverConfig
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, cfg config.JobsConfig, workers *river.Workers, logger *slog.Logger, hooks []rivertype.Hook) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(cfg, workers, logger, hooks))
}

// NewPeriodicJobs schedules the recurring cleanup sweeps. Both are
// idempotent: they delete rows that are already unusable, so overlapping or
// repeated runs change nothing.
func NewPeriodicJobs(cfg config.JobsConfig) []*river.PeriodicJob {
	interval := cfg.CleanupEvery.Std()
	if interval <= 0 {
		interval = time.Hour
	}

	return []*river.PeriodicJob{
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return TokenCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: cfg.CleanupOnStart},
		),
		river.NewPeriodicJob(
			river.PeriodicInterval(interval),
			func() (river.JobArgs, *river.InsertOpts) {
				return RateLimitCleanupArgs{}, nil
			},
			&river.PeriodicJobOpts{RunOnStart: cfg.CleanupOnStart},
		),
	}
}
