package job

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Processor carries a claimed (downloading) job to a terminal state.
type Processor interface {
	Process(ctx context.Context, j *Job) error
}

// WorkerPool runs a fixed number of goroutines that claim and process queued
// jobs. The worker count is the only bound on concurrently running pipelines;
// anything beyond it stays queued in the repository until a worker frees up.
type WorkerPool struct {
	repo         Repository
	processor    Processor
	workers      int
	notify       chan struct{}
	pollInterval time.Duration
}

// NewWorkerPool creates a pool with the given number of workers.
func NewWorkerPool(repo Repository, processor Processor, workers int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	return &WorkerPool{
		repo:         repo,
		processor:    processor,
		workers:      workers,
		notify:       make(chan struct{}, 1),
		pollInterval: 5 * time.Second,
	}
}

// Notify wakes idle workers to check for queued jobs. Non-blocking.
func (wp *WorkerPool) Notify() {
	select {
	case wp.notify <- struct{}{}:
	default:
	}
}

// Run starts worker goroutines and blocks until ctx is cancelled and all
// workers have finished their current job.
func (wp *WorkerPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := range wp.workers {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			wp.loop(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (wp *WorkerPool) loop(ctx context.Context, id int) {
	ticker := time.NewTicker(wp.pollInterval)
	defer ticker.Stop()

	for {
		wp.drain(ctx, id)

		select {
		case <-ctx.Done():
			return
		case <-wp.notify:
		case <-ticker.C:
		}
	}
}

func (wp *WorkerPool) drain(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		j, err := wp.repo.ClaimQueued(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // shutting down
			}
			slog.Error("worker: claim queued", "worker", id, "error", err)
			return
		}
		if j == nil {
			return
		}

		// Hand the wake-up on to an idle worker before blocking.
		wp.Notify()

		slog.Info("worker: processing job", "worker", id, "job", j.ID, "url", j.SourceURL)

		// Started jobs are not cancellable: they run to a terminal state even
		// when shutdown begins.
		if err := wp.processor.Process(context.WithoutCancel(ctx), j); err != nil {
			slog.Error("worker: process job", "worker", id, "job", j.ID, "error", err)
		}
	}
}
