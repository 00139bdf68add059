package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/clipper/internal/artifact"
	"github.com/ahmethakanbesel/clipper/internal/clip"
	"github.com/ahmethakanbesel/clipper/internal/config"
	"github.com/ahmethakanbesel/clipper/internal/job"
	"github.com/ahmethakanbesel/clipper/internal/media/ffmpeg"
	"github.com/ahmethakanbesel/clipper/internal/media/ytdlp"
	"github.com/ahmethakanbesel/clipper/internal/platform/sqlite"
	jobrepo "github.com/ahmethakanbesel/clipper/internal/repository/job"
	"github.com/ahmethakanbesel/clipper/internal/retention"
	"github.com/ahmethakanbesel/clipper/internal/server"
)

func main() {
	cfg := config.Load()

	// Root context: cancelled on SIGINT/SIGTERM. Workers stop claiming new
	// jobs once it is done; a pipeline already running is left to finish.
	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// Open database
	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	jobRepo := jobrepo.NewRepository(db.DB)

	artifacts, err := artifact.New(cfg.VideoDir, cfg.WorkDir)
	if err != nil {
		slog.Error("failed to prepare storage", "error", err)
		os.Exit(1)
	}

	// Nothing is running yet, so every scratch file is a leftover.
	if n, err := artifacts.CleanScratch(); err != nil {
		slog.Error("failed to clean scratch space", "error", err)
	} else if n > 0 {
		slog.Info("removed stale scratch files", "count", n)
	}

	// Media tools
	downloader := ytdlp.New(
		ytdlp.WithBinary(cfg.YtDlpPath),
		ytdlp.WithCookies(cfg.CookiesFile),
	)
	encoder := ffmpeg.New(ffmpeg.WithBinaries(cfg.FFmpegPath, cfg.FFprobePath))

	// Services
	jobSvc := job.NewService(jobRepo, job.WithClipRemover(artifacts))
	clipSvc := clip.NewService(jobRepo, downloader, encoder, artifacts,
		clip.WithPublicURL(cfg.PublicURL),
		clip.WithPersistRetries(cfg.PersistRetries, 500*time.Millisecond),
	)

	// Jobs a previous process left mid-pipeline are failed, not re-run.
	if err := jobSvc.RecoverInterruptedJobs(rootCtx); err != nil {
		slog.Error("failed to recover interrupted jobs", "error", err)
		os.Exit(1)
	}

	pool := job.NewWorkerPool(jobRepo, clipSvc, cfg.Workers)
	clipSvc.SetNotify(pool.Notify)

	sweeper := retention.NewSweeper(jobRepo, artifacts,
		retention.WithRetention(cfg.Retention),
		retention.WithInterval(cfg.SweepInterval),
	)

	var g errgroup.Group
	g.Go(func() error {
		pool.Run(rootCtx)
		return nil
	})
	g.Go(func() error {
		sweeper.Run(rootCtx)
		return nil
	})
	// Pick up anything still queued from before the restart.
	pool.Notify()

	srv := server.New(rootCtx, cfg.Port, clipSvc, jobSvc, artifacts)

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server started",
		"port", cfg.Port,
		"workers", cfg.Workers,
		"publicURL", cfg.PublicURL,
		"retention", cfg.Retention.String(),
	)
	<-done

	// Stop intake first so no job is queued behind the pool's back.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}

	rootCancel()
	slog.Info("waiting for running jobs")
	_ = g.Wait()

	slog.Info("server stopped")
}
