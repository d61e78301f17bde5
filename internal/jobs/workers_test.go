package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

func TestVerificationEmailArgs_Kind(t *testing.T) {
	args := VerificationEmailArgs{UserID: "user-123", Email: "alice@example.com", Token: "tok"}
	if args.Kind() != JobKindVerificationEmail {
		t.Errorf("Kind() = %q, want %q", args.Kind(), JobKindVerificationEmail)
	}
}

func TestPasswordResetEmailArgs_Kind(t *testing.T) {
	args := PasswordResetEmailArgs{UserID: "user-123", Email: "alice@example.com", Token: "tok"}
	if args.Kind() != JobKindPasswordResetEmail {
		t.Errorf("Kind() = %q, want %q", args.Kind(), JobKindPasswordResetEmail)
	}
}

func TestTokenCleanupArgs_Kind(t *testing.T) {
	if (TokenCleanupArgs{}).Kind() != JobKindTokenCleanup {
		t.Errorf("Kind() = %q, want %q", TokenCleanupArgs{}.Kind(), JobKindTokenCleanup)
	}
}

func TestRateLimitCleanupArgs_Kind(t *testing.T) {
	if (RateLimitCleanupArgs{}).Kind() != JobKindRateLimitCleanup {
		t.Errorf("Kind() = %q, want %q", RateLimitCleanupArgs{}.Kind(), JobKindRateLimitCleanup)
	}
}

type fakeCounterStore struct {
	deleted int64
	before  time.Time
	err     error
}

func (s *fakeCounterStore) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	s.before = before
	return s.deleted, s.err
}

func rateLimitCleanupJob() *river.Job[RateLimitCleanupArgs] {
	return &river.Job[RateLimitCleanupArgs]{JobRow: &rivertype.JobRow{Kind: JobKindRateLimitCleanup}}
}

func TestRateLimitCleanupWorker_DeletesClosedWindows(t *testing.T) {
	store := &fakeCounterStore{deleted: 7}
	worker := &RateLimitCleanupWorker{Store: store, Window: time.Hour}

	if err := worker.Work(context.Background(), rateLimitCleanupJob()); err != nil {
		t.Fatalf("Work() failed: %v", err)
	}

	// The cutoff must sit at least one full window in the past so the
	// current and previous windows survive the sweep.
	if time.Since(store.before) < time.Hour {
		t.Errorf("cutoff %v is inside the previous window", store.before)
	}
}

func TestRateLimitCleanupWorker_PropagatesStoreError(t *testing.T) {
	store := &fakeCounterStore{err: errors.New("connection refused")}
	worker := &RateLimitCleanupWorker{Store: store, Window: time.Hour}

	if err := worker.Work(context.Background(), rateLimitCleanupJob()); err == nil {
		t.Error("expected store error to propagate")
	}
}

func TestRateLimitCleanupWorker_RequiresStore(t *testing.T) {
	worker := &RateLimitCleanupWorker{}
	if err := worker.Work(context.Background(), rateLimitCleanupJob()); err == nil {
		t.Error("expected error when store is not configured")
	}
}

func TestTokenCleanupWorker_RequiresService(t *testing.T) {
	worker := &TokenCleanupWorker{}
	job := &river.Job[TokenCleanupArgs]{JobRow: &rivertype.JobRow{Kind: JobKindTokenCleanup}}
	if err := worker.Work(context.Background(), job); err == nil {
		t.Error("expected error when token service is not configured")
	}
}

func TestNewWorkers_RegistersAllKinds(t *testing.T) {
	workers := NewWorkers(WorkerDeps{})
	if workers == nil {
		t.Fatal("NewWorkers() returned nil")
	}
}

func TestHumanDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "a short while"},
		{30 * time.Minute, "30 minutes"},
		{time.Hour, "1 hour"},
		{24 * time.Hour, "24 hours"},
	}
	for _, tt := range tests {
		if got := humanDuration(tt.in); got != tt.want {
			t.Errorf("humanDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
