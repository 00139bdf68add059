package job

import (
	"context"
	"log/slog"
)

// InterruptedReason is recorded on jobs that were mid-pipeline when the
// process stopped. They are failed rather than re-run: each job gets a
// single attempt.
const InterruptedReason = "processing interrupted by service restart"

// ClipRemover deletes whatever clip a job may have published. A job with no
// clip on disk is not an error.
type ClipRemover interface {
	RemoveClip(jobID string) error
}

type Service struct {
	repo  Repository
	clips ClipRemover
}

type ServiceOption func(*Service)

// WithClipRemover lets recovery delete clips published by jobs that never
// reached completed.
func WithClipRemover(r ClipRemover) ServiceOption {
	return func(s *Service) { s.clips = r }
}

func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{repo: repo}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RecoverInterruptedJobs fails every job a previous process left in
// downloading or processing. A pipeline can die after publishing its clip
// but before recording completion; that clip is removed here since nothing
// will ever serve or expire it.
func (s *Service) RecoverInterruptedJobs(ctx context.Context) error {
	ids, err := s.repo.FailInterrupted(ctx, InterruptedReason)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	slog.Warn("failed interrupted jobs", "count", len(ids))

	if s.clips == nil {
		return nil
	}
	for _, id := range ids {
		if err := s.clips.RemoveClip(id); err != nil {
			slog.Error("remove clip of interrupted job", "job", id, "error", err)
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, req GetJobRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, req.ID)
}

func (s *Service) List(ctx context.Context, req ListJobsRequest) ([]Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, Status(req.Status))
}
