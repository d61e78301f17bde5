package jobs

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"

	"github.com/tudorilade/events-scheduler/internal/domain/users"
)

// Queue adapts the River client to the TaskQueue interface the user flows
// consume. Delivery is at-least-once; the email workers tolerate duplicate
// execution.
type Queue struct {
	client *river.Client[pgx.Tx]
}

func NewQueue(client *river.Client[pgx.Tx]) *Queue {
	return &Queue{client: client}
}

func (q *Queue) EnqueueVerificationEmail(ctx context.Context, userID, email, token string) error {
	_, err := q.client.Insert(ctx, VerificationEmailArgs{
		UserID: userID,
		Email:  email,
		Token:  token,
	}, &river.InsertOpts{MaxAttempts: EmailMaxAttempts})
	if err != nil {
		return fmt.Errorf("enqueue verification email: %w", err)
	}
	return nil
}

func (q *Queue) EnqueuePasswordResetEmail(ctx context.Context, userID, email, token string) error {
	_, err := q.client.Insert(ctx, PasswordResetEmailArgs{
		UserID: userID,
		Email:  email,
		Token:  token,
	}, &river.InsertOpts{MaxAttempts: EmailMaxAttempts})
	if err != nil {
		return fmt.Errorf("enqueue password reset email: %w", err)
	}
	return nil
}

var _ users.TaskQueue = (*Queue)(nil)
