package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/slidereel/slidereel-api/internal/job"
	"github.com/slidereel/slidereel-api/internal/storage"
)

// Service coordinates render jobs: it owns the job lifecycle in the
// repository and hands background work to the bounded worker pool.
// Completion of async jobs is observed only through the repository.
type Service struct {
	repo     job.Repository
	pipeline *Pipeline
	pool     *job.Pool
	store    storage.Storage
	logger   *slog.Logger
}

// NewService creates a new render Service.
func NewService(repo job.Repository, pipeline *Pipeline, pool *job.Pool, store storage.Storage, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		pipeline: pipeline,
		pool:     pool,
		store:    store,
		logger:   logger,
	}
}

// RenderSync runs a render to completion on the caller's goroutine.
// A job record is still kept so the result remains pollable.
func (s *Service) RenderSync(ctx context.Context, req Request) (*Result, error) {
	j := s.newJob(req)
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	return s.runJob(ctx, j, req)
}

// SubmitAsync normalizes the request, creates a queued job, and hands it to
// the worker pool. It returns the created job and the number of URLs that
// survived normalization. Zero survivors reject the submission before any
// job is created.
func (s *Service) SubmitAsync(ctx context.Context, req Request) (*job.RenderJob, int, error) {
	refs := s.pipeline.NormalizeRefs(req.ImageURLs)
	if len(refs) == 0 {
		return nil, 0, ErrNoValidURLs
	}

	j := s.newJob(req)
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, 0, fmt.Errorf("save job: %w", err)
	}

	jobID := j.ID
	if err := s.pool.Submit(func(taskCtx context.Context) {
		s.processQueued(taskCtx, jobID, req)
	}); err != nil {
		_ = j.Fail("submission rejected: " + err.Error())
		_ = s.repo.Save(ctx, j)
		return nil, 0, err
	}

	s.logger.Info("job queued",
		slog.String("job_id", jobID),
		slog.Int("count", len(refs)),
	)
	return j.Clone(), len(refs), nil
}

// GetJob returns the job projection for polling. When the in-memory record
// is gone but the output artifact exists on disk, it reports done with the
// recoverable URL instead of losing the result.
func (s *Service) GetJob(ctx context.Context, jobID string) (*job.RenderJob, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err == nil {
		return j, nil
	}
	if errors.Is(err, job.ErrJobNotFound) && s.store.VideoExists(jobID) {
		recovered := job.NewWithID(jobID)
		_ = recovered.Start()
		_ = recovered.Done("", s.store.VideoURL(jobID))
		return recovered, nil
	}
	return nil, err
}

// processQueued executes one queued job on a pool worker.
func (s *Service) processQueued(ctx context.Context, jobID string, req Request) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		s.logger.Error("queued job vanished",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	_, _ = s.runJob(ctx, j, req)
}

// runJob drives one job through running to a terminal state. Only this
// task mutates the job record.
func (s *Service) runJob(ctx context.Context, j *job.RenderJob, req Request) (*Result, error) {
	if err := j.Start(); err != nil {
		s.logger.Error("job start failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	_ = s.repo.Save(ctx, j)

	res, renderErr := s.pipeline.Render(ctx, j.ID, req)
	if renderErr != nil {
		s.logger.Error("render failed",
			slog.String("job_id", j.ID),
			slog.String("error", renderErr.Error()),
		)
		_ = j.Fail(renderErr.Error())
	} else {
		_ = j.Done(res.VideoPath, res.VideoURL)
	}

	if err := s.repo.Save(ctx, j); err != nil {
		s.logger.Error("job save failed",
			slog.String("job_id", j.ID),
			slog.String("error", err.Error()),
		)
	}
	return res, renderErr
}

// newJob builds a queued job record from a request.
func (s *Service) newJob(req Request) *job.RenderJob {
	j := job.New()
	for _, ref := range s.pipeline.NormalizeRefs(req.ImageURLs) {
		j.ImageURLs = append(j.ImageURLs, ref.NormalizedURL)
	}
	j.DurationSec = req.DurationSec
	j.LoopCount = req.LoopCount
	j.FitMode = req.FitMode
	return j
}
