// Package retention deletes finished clips once they outlive the retention
// window, keeping the job records as expired.
package retention

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/clipper/internal/apperror"
	"github.com/ahmethakanbesel/clipper/internal/job"
)

const DefaultRetention = 24 * time.Hour

// ArtifactRemover deletes a published artifact by name. Removing a file that
// is already gone must succeed.
type ArtifactRemover interface {
	Remove(name string) error
}

type Sweeper struct {
	repo      job.Repository
	artifacts ArtifactRemover
	retention time.Duration
	interval  time.Duration
	parallel  int
	now       func() time.Time
}

type Option func(*Sweeper)

func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.retention = d
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func NewSweeper(repo job.Repository, artifacts ArtifactRemover, opts ...Option) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		artifacts: artifacts,
		retention: DefaultRetention,
		interval:  10 * time.Minute,
		parallel:  4,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result summarises one sweep.
type Result struct {
	Expired int
	Failed  int
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("retention sweep", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires every completed job whose completion is older than the
// retention window. A job whose artifact cannot be deleted is logged and
// left for the next sweep; the others are still processed.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	cutoff := s.now().Add(-s.retention)
	jobs, err := s.repo.ListExpirable(ctx, cutoff)
	if err != nil {
		return Result{}, err
	}
	if len(jobs) == 0 {
		return Result{}, nil
	}

	var expired, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.parallel)

	for _, j := range jobs {
		g.Go(func() error {
			if err := s.expire(ctx, j); err != nil {
				failed.Add(1)
				slog.Error("expire job", "job", j.ID, "file", j.OutputPath, "error", err)
				return nil
			}
			expired.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Expired: int(expired.Load()), Failed: int(failed.Load())}
	slog.Info("retention sweep finished", "expired", res.Expired, "failed", res.Failed, "cutoff", cutoff)
	return res, nil
}

func (s *Sweeper) expire(ctx context.Context, j job.Job) error {
	// Delete first; a failed delete leaves the record for the next sweep.
	if err := s.artifacts.Remove(j.OutputPath); err != nil && !apperror.Is(err, apperror.NotFound) {
		return err
	}

	_, err := s.repo.Update(ctx, j.ID, func(cur *job.Job) error {
		if cur.Status != job.StatusCompleted || cur.Expired() {
			return nil
		}
		now := s.now()
		cur.OutputPath = ""
		cur.DownloadURL = ""
		cur.Message = job.MessageExpired
		cur.ExpiredAt = &now
		return nil
	})
	return err
}
