package measurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pulsecam/pulsecam-agent/internal/logging"
	"github.com/pulsecam/pulsecam-agent/internal/video"
)

const defaultRunnerInterval = 5 * time.Second

// Runner measures spooled videos one job at a time, oldest first.
type Runner struct {
	service      *Service
	repo         Repository
	spoolDir     string
	logger       *slog.Logger
	pollInterval time.Duration
	wake         chan struct{}
	running      atomic.Bool
	paused       atomic.Bool
}

func NewRunner(service *Service, repo Repository, spoolDir string, logger *slog.Logger) *Runner {
	return &Runner{
		service:      service,
		repo:         repo,
		spoolDir:     spoolDir,
		logger:       logger,
		pollInterval: defaultRunnerInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Submit spools data to disk and queues a measurement job for it.
func (r *Runner) Submit(ctx context.Context, data []byte, contentType string) (*Job, error) {
	artifact, err := video.New(data, contentType)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.spoolDir, 0700); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	now := time.Now()
	job := &Job{
		ID:          NewID(),
		Status:      JobStatusPending,
		ContentType: artifact.ContentType(),
		Size:        artifact.Size(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	job.VideoPath = filepath.Join(r.spoolDir, job.ID+video.ExtensionFor(job.ContentType))

	if err := os.WriteFile(job.VideoPath, artifact.Bytes(), 0600); err != nil {
		return nil, fmt.Errorf("spool video: %w", err)
	}
	if err := r.repo.CreateJob(ctx, job); err != nil {
		os.Remove(job.VideoPath)
		return nil, fmt.Errorf("create job: %w", err)
	}

	r.logger.Info("measurement job queued", "job_id", job.ID, "size", job.Size)
	select {
	case r.wake <- struct{}{}:
	default:
	}
	return job, nil
}

func (r *Runner) Start(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	r.logger.Info("job runner started")

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("job runner stopping")
			r.running.Store(false)
			return
		case <-ticker.C:
		case <-r.wake:
		}
		if !r.paused.Load() {
			r.processNextJob(ctx)
		}
	}
}

func (r *Runner) Pause() {
	r.paused.Store(true)
	r.logger.Info("job runner paused")
}

func (r *Runner) Resume() {
	r.paused.Store(false)
	r.logger.Info("job runner resumed")
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) IsPaused() bool {
	return r.paused.Load()
}

func (r *Runner) IsRunning() bool {
	return r.running.Load()
}

// processNextJob runs the oldest pending job. It reports whether a job was
// found.
func (r *Runner) processNextJob(ctx context.Context) bool {
	jobs, err := r.repo.ListPendingJobs(ctx)
	if err != nil {
		r.logger.Error("failed to list pending jobs", "error", err)
		return false
	}
	if len(jobs) == 0 {
		return false
	}

	job := jobs[0]
	logger := logging.WithJobID(r.logger, job.ID)
	logger.Info("processing measurement job", "path", job.VideoPath)

	data, err := os.ReadFile(job.VideoPath)
	if err != nil {
		r.finish(ctx, logger, job, fmt.Errorf("read spooled video: %w", err))
		return true
	}
	artifact, err := video.New(data, job.ContentType)
	if err != nil {
		r.finish(ctx, logger, job, err)
		return true
	}

	if err := r.repo.UpdateJobStatus(ctx, job.ID, JobStatusRunning, ""); err != nil {
		logger.Error("failed to mark job running", "error", err)
		return true
	}

	rec, err := r.service.Measure(ctx, artifact)
	if errors.Is(err, ErrBusy) {
		if err := r.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, JobStatusPending, ""); err != nil {
			logger.Error("failed to requeue job", "error", err)
			return true
		}
		logger.Info("measurement in progress elsewhere, job stays queued")
		return true
	}
	if rec.VideoID != "" {
		if err := r.repo.SetJobRemoteID(ctx, job.ID, rec.VideoID); err != nil {
			logger.Warn("failed to store remote video id", "error", err)
		}
	}
	r.finish(ctx, logger, job, err)
	return true
}

// finish records the job outcome and removes the spooled video.
func (r *Runner) finish(ctx context.Context, logger *slog.Logger, job *Job, err error) {
	status, msg := JobStatusCompleted, ""
	if err != nil {
		status, msg = JobStatusFailed, UserMessage(err)
	}
	// Shutdown cancels ctx; the outcome still needs to be written.
	if uerr := r.repo.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, status, msg); uerr != nil {
		logger.Error("failed to update job status", "error", uerr)
	}

	if rerr := os.Remove(job.VideoPath); rerr != nil && !os.IsNotExist(rerr) {
		logger.Warn("failed to remove spooled video", "error", rerr)
	}

	if err != nil {
		logger.Warn("measurement job failed", "error", err)
		return
	}
	logger.Info("measurement job completed")
}
