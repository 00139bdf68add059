package job

import (
	"context"
	"time"
)

// Mutation edits a job in place inside Repository.Update. Returning an error
// aborts the update and leaves the stored record untouched.
type Mutation func(j *Job) error

type Repository interface {
	Create(ctx context.Context, j *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	Update(ctx context.Context, id string, mutate Mutation) (*Job, error)
	List(ctx context.Context, status Status) ([]Job, error)
	ClaimQueued(ctx context.Context) (*Job, error)
	FailInterrupted(ctx context.Context, reason string) ([]string, error)
	ListExpirable(ctx context.Context, completedBefore time.Time) ([]Job, error)
}
