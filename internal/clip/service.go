// Package clip accepts clip requests and runs the download → trim pipeline
// for each job handed to it by the worker pool.
package clip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
	"github.com/ahmethakanbesel/clipper/internal/artifact"
	"github.com/ahmethakanbesel/clipper/internal/job"
	"github.com/ahmethakanbesel/clipper/internal/media"
)

// Downloader fetches a remote video into dir and returns the local path.
type Downloader interface {
	Download(ctx context.Context, sourceURL, dir string) (string, error)
}

// Encoder inspects and trims local media.
type Encoder interface {
	Probe(ctx context.Context, path string) (media.Info, error)
	Trim(ctx context.Context, req media.TrimRequest) error
}

type Service struct {
	repo       job.Repository
	downloader Downloader
	encoder    Encoder
	artifacts  *artifact.Store
	notify     func() // optional: wake worker pool

	publicURL      string
	persistRetries int
	retryDelay     time.Duration
	now            func() time.Time
}

type Option func(*Service)

// WithPublicURL sets the scheme://host prefix used for status and download links.
func WithPublicURL(u string) Option {
	return func(s *Service) { s.publicURL = strings.TrimRight(u, "/") }
}

// WithPersistRetries bounds how often a failed state write is attempted.
func WithPersistRetries(n int, delay time.Duration) Option {
	return func(s *Service) {
		if n > 0 {
			s.persistRetries = n
		}
		s.retryDelay = delay
	}
}

func NewService(repo job.Repository, downloader Downloader, encoder Encoder, artifacts *artifact.Store, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		downloader:     downloader,
		encoder:        encoder,
		artifacts:      artifacts,
		publicURL:      "http://localhost:3000",
		persistRetries: 3,
		retryDelay:     500 * time.Millisecond,
		now:            func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SetNotify sets a callback invoked when a new queued job is created.
func (s *Service) SetNotify(fn func()) { s.notify = fn }

// Submit validates a request and records a queued job for the worker pool.
// Invalid requests never create a record.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	rng, appErr := req.Parse()
	if appErr != nil {
		return nil, appErr
	}

	j := &job.Job{
		ID:         uuid.NewString(),
		SourceURL:  strings.TrimSpace(req.SourceURL),
		InputMark:  rng.In,
		OutputMark: rng.Out,
		Status:     job.StatusQueued,
		Message:    job.MessageQueued,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	slog.Info("job queued", "job", j.ID, "url", j.SourceURL, "in", j.InputMark, "out", j.OutputMark)

	if s.notify != nil {
		s.notify()
	}

	return &SubmitResponse{
		JobID:     j.ID,
		Status:    j.Status,
		Message:   j.Message,
		StatusURL: s.StatusURL(j.ID),
	}, nil
}

func (s *Service) StatusURL(id string) string {
	return s.publicURL + "/api/v1/jobs/" + id
}

func (s *Service) DownloadURL(filename string) string {
	return s.publicURL + "/download/" + filename
}

// Process implements job.Processor. It receives a job already claimed into
// the downloading state and drives it to completed or failed, persisting
// every transition before moving on.
func (s *Service) Process(ctx context.Context, j *job.Job) error {
	log := slog.With("job", j.ID)
	start := time.Now()

	dir, err := s.artifacts.WorkDir(j.ID)
	if err != nil {
		return s.fail(ctx, j.ID, stageError(ErrDownload, err))
	}
	// The full-length download is only needed until the clip exists.
	defer func() {
		if err := s.artifacts.RemoveWorkDir(j.ID); err != nil {
			log.Warn("remove work directory", "error", err)
		}
	}()

	log.Info("downloading source", "url", j.SourceURL)
	source, err := s.downloader.Download(ctx, j.SourceURL, dir)
	if err != nil {
		return s.fail(ctx, j.ID, stageError(ErrDownload, err))
	}

	if _, err := s.persist(ctx, j.ID, func(j *job.Job) error {
		j.Status = job.StatusProcessing
		j.Message = job.MessageProcessing
		return nil
	}); err != nil {
		return s.abandon(ctx, j.ID, err)
	}

	req, err := s.plan(ctx, j, source)
	if err != nil {
		return s.fail(ctx, j.ID, stageError(ErrProcessing, err))
	}

	log.Info("trimming", "start", req.Start, "length", req.Length)
	if err := s.encoder.Trim(ctx, req); err != nil {
		s.discard(log, j.ID)
		return s.fail(ctx, j.ID, stageError(ErrProcessing, err))
	}

	filename, err := s.artifacts.Commit(j.ID)
	if err != nil {
		s.discard(log, j.ID)
		return s.fail(ctx, j.ID, stageError(ErrProcessing, err))
	}

	if _, err := s.persist(ctx, j.ID, func(j *job.Job) error {
		now := s.now()
		j.Status = job.StatusCompleted
		j.Message = job.MessageCompleted
		j.OutputPath = filename
		j.DownloadURL = s.DownloadURL(filename)
		j.CompletedAt = &now
		return nil
	}); err != nil {
		// Nobody can ever be pointed at this file.
		if rmErr := s.artifacts.Remove(filename); rmErr != nil {
			log.Warn("remove unpublished artifact", "error", rmErr)
		}
		return s.abandon(ctx, j.ID, err)
	}

	log.Info("job completed", "file", filename, "took", time.Since(start).String())
	return nil
}

// plan probes the download and builds the trim request. An output mark past
// the end of the source is clamped to the source duration; an input mark
// past the end cannot be satisfied.
func (s *Service) plan(ctx context.Context, j *job.Job, source string) (media.TrimRequest, error) {
	info, err := s.encoder.Probe(ctx, source)
	if err != nil {
		return media.TrimRequest{}, err
	}

	in, out := j.InputMark.Duration(), j.OutputMark.Duration()
	if in >= info.Duration {
		return media.TrimRequest{}, fmt.Errorf("input mark %s is beyond the source duration %s", j.InputMark, info.Duration)
	}
	if out > info.Duration {
		slog.Info("clamping output mark to source duration", "job", j.ID, "requested", j.OutputMark, "duration", info.Duration)
		out = info.Duration
	}

	return media.TrimRequest{
		Input:    source,
		Output:   s.artifacts.TempPath(j.ID),
		Start:    in,
		Length:   out - in,
		HasAudio: info.HasAudio,
	}, nil
}

func (s *Service) discard(log *slog.Logger, id string) {
	if err := s.artifacts.Discard(id); err != nil {
		log.Warn("discard partial output", "error", err)
	}
}

// fail records cause as the job's terminal error and returns it.
func (s *Service) fail(ctx context.Context, id string, cause error) error {
	_, err := s.persist(ctx, id, func(j *job.Job) error {
		now := s.now()
		j.Status = job.StatusFailed
		j.Message = job.MessageFailed
		j.Error = cause.Error()
		j.OutputPath = ""
		j.DownloadURL = ""
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		slog.Error("job outcome not persisted", "job", id, "status", job.StatusFailed, "cause", cause, "error", err)
		return errors.Join(cause, err)
	}
	return cause
}

// abandon handles a transition that could not be written. The pipeline stops
// and one more attempt is made to record the failure, so the job does not
// sit in a non-terminal state that no worker owns.
func (s *Service) abandon(ctx context.Context, id string, persistErr error) error {
	if apperror.Is(persistErr, apperror.Conflict) || apperror.Is(persistErr, apperror.NotFound) {
		slog.Error("job changed under the pipeline", "job", id, "error", persistErr)
		return persistErr
	}
	return s.fail(ctx, id, fmt.Errorf("record job state: %w", persistErr))
}

// persist applies mutate through the store, retrying while the store is
// unavailable.
func (s *Service) persist(ctx context.Context, id string, mutate job.Mutation) (*job.Job, error) {
	var err error
	for attempt := 1; attempt <= s.persistRetries; attempt++ {
		var j *job.Job
		j, err = s.repo.Update(ctx, id, mutate)
		if err == nil {
			slog.Info("job transition", "job", id, "status", j.Status)
			return j, nil
		}
		if !apperror.Is(err, apperror.Unavailable) {
			return nil, err
		}

		slog.Warn("persist job state failed", "job", id, "attempt", attempt, "error", err)
		if attempt == s.persistRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(err, ctx.Err())
		case <-time.After(s.retryDelay):
		}
	}
	return nil, err
}
