package jobs

import (
	"testing"
	"time"

	"github.com/riverqueue/river/rivertype"

	"github.com/tudorilade/events-scheduler/internal/config"
)

func TestNewRetryPolicy(t *testing.T) {
	policy := NewRetryPolicy(0)

	if policy == nil {
		t.Fatal("NewRetryPolicy() returned nil")
	}
	if policy.Default.MaxAttempts != EmailMaxAttempts {
		t.Errorf("Default.MaxAttempts = %d, want %d", policy.Default.MaxAttempts, EmailMaxAttempts)
	}

	tests := []struct {
		kind                string
		expectedMaxAttempts int
		expectedBaseDelay   time.Duration
		expectedMaxDelay    time.Duration
	}{
		{
			kind:                JobKindVerificationEmail,
			expectedMaxAttempts: EmailMaxAttempts,
			expectedBaseDelay:   30 * time.Second,
			expectedMaxDelay:    10 * time.Minute,
		},
		{
			kind:                JobKindPasswordResetEmail,
			expectedMaxAttempts: EmailMaxAttempts,
			expectedBaseDelay:   30 * time.Second,
			expectedMaxDelay:    10 * time.Minute,
		},
		{
			kind:                JobKindTokenCleanup,
			expectedMaxAttempts: CleanupMaxAttempts,
			expectedBaseDelay:   1 * time.Minute,
			expectedMaxDelay:    5 * time.Minute,
		},
		{
			kind:                JobKindRateLimitCleanup,
			expectedMaxAttempts: CleanupMaxAttempts,
			expectedBaseDelay:   1 * time.Minute,
			expectedMaxDelay:    5 * time.Minute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			cfg, ok := policy.ByKind[tt.kind]
			if !ok {
				t.Fatalf("kind %s not found in ByKind map", tt.kind)
			}
			if cfg.MaxAttempts != tt.expectedMaxAttempts {
				t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, tt.expectedMaxAttempts)
			}
			if cfg.BaseDelay != tt.expectedBaseDelay {
				t.Errorf("BaseDelay = %v, want %v", cfg.BaseDelay, tt.expectedBaseDelay)
			}
			if cfg.MaxDelay != tt.expectedMaxDelay {
				t.Errorf("MaxDelay = %v, want %v", cfg.MaxDelay, tt.expectedMaxDelay)
			}
		})
	}
}

func TestNewRetryPolicy_OverridesEmailAttempts(t *testing.T) {
	policy := NewRetryPolicy(5)

	if policy.ByKind[JobKindVerificationEmail].MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", policy.ByKind[JobKindVerificationEmail].MaxAttempts)
	}
	if policy.ByKind[JobKindTokenCleanup].MaxAttempts != CleanupMaxAttempts {
		t.Errorf("cleanup MaxAttempts = %d, want %d", policy.ByKind[JobKindTokenCleanup].MaxAttempts, CleanupMaxAttempts)
	}
}

func TestRetryPolicy_NextRetry(t *testing.T) {
	policy := NewRetryPolicy(0)
	attemptedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		kind          string
		attempt       int
		expectedDelay time.Duration
	}{
		{name: "email first attempt", kind: JobKindVerificationEmail, attempt: 1, expectedDelay: 30 * time.Second},
		{name: "email second attempt", kind: JobKindVerificationEmail, attempt: 2, expectedDelay: 1 * time.Minute},
		{name: "email third attempt", kind: JobKindVerificationEmail, attempt: 3, expectedDelay: 2 * time.Minute},
		{name: "email capped at max delay", kind: JobKindVerificationEmail, attempt: 10, expectedDelay: 10 * time.Minute},
		{name: "cleanup first attempt", kind: JobKindTokenCleanup, attempt: 1, expectedDelay: 1 * time.Minute},
		{name: "cleanup capped at max delay", kind: JobKindRateLimitCleanup, attempt: 8, expectedDelay: 5 * time.Minute},
		{name: "unknown kind uses default", kind: "unknown", attempt: 1, expectedDelay: 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := &rivertype.JobRow{
				Kind:        tt.kind,
				Attempt:     tt.attempt,
				AttemptedAt: &attemptedAt,
			}
			got := policy.NextRetry(job)
			want := attemptedAt.Add(tt.expectedDelay)
			if !got.Equal(want) {
				t.Errorf("NextRetry() = %v, want %v", got, want)
			}
		})
	}
}

func TestRetryPolicy_NextRetryWithoutAttemptedAt(t *testing.T) {
	policy := NewRetryPolicy(0)
	before := time.Now()

	got := policy.NextRetry(&rivertype.JobRow{Kind: JobKindVerificationEmail, Attempt: 1})

	delay := got.Sub(before)
	if delay < 29*time.Second || delay > 31*time.Second {
		t.Errorf("delay = %v, want ~30s", delay)
	}
}

func TestNewPeriodicJobs(t *testing.T) {
	jobs := NewPeriodicJobs(config.JobsConfig{
		CleanupEvery:   config.Duration(15 * time.Minute),
		CleanupOnStart: true,
	})

	if len(jobs) != 2 {
		t.Fatalf("len(jobs) = %d, want 2", len(jobs))
	}
}

func TestNewClientConfig(t *testing.T) {
	cfg := config.JobsConfig{
		RetryEmail:   3,
		MaxWorkers:   4,
		JobTimeout:   config.Duration(time.Minute),
		CleanupEvery: config.Duration(time.Hour),
	}

	riverConfig := NewClientConfig(cfg, nil, nil, nil)

	if riverConfig.MaxAttempts != EmailMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", riverConfig.MaxAttempts, EmailMaxAttempts)
	}
	if riverConfig.JobTimeout != time.Minute {
		t.Errorf("JobTimeout = %v, want 1m", riverConfig.JobTimeout)
	}
	queue, ok := riverConfig.Queues["default"]
	if !ok {
		t.Fatal("default queue not configured")
	}
	if queue.MaxWorkers != 4 {
		t.Errorf("MaxWorkers = %d, want 4", queue.MaxWorkers)
	}
	if len(riverConfig.PeriodicJobs) != 2 {
		t.Errorf("len(PeriodicJobs) = %d, want 2", len(riverConfig.PeriodicJobs))
	}
}
