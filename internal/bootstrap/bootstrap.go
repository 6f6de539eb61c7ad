// Package bootstrap provides dependency initialization for the render API.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/slidereel/slidereel-api/internal/cleanup"
	"github.com/slidereel/slidereel-api/internal/compose"
	"github.com/slidereel/slidereel-api/internal/config"
	"github.com/slidereel/slidereel-api/internal/credits"
	"github.com/slidereel/slidereel-api/internal/encode"
	"github.com/slidereel/slidereel-api/internal/fetch"
	"github.com/slidereel/slidereel-api/internal/imageurl"
	"github.com/slidereel/slidereel-api/internal/job"
	"github.com/slidereel/slidereel-api/internal/render"
	"github.com/slidereel/slidereel-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	RenderService *render.Service
	Pool          *job.Pool
	Janitor       *cleanup.Janitor
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	fitMode, err := compose.ParseFitMode(cfg.FitMode)
	if err != nil {
		return nil, fmt.Errorf("parse fit mode: %w", err)
	}

	normalizer := imageurl.NewNormalizer(cfg.ImageHosts)
	resolver := fetch.NewResolver(
		fetch.WithMinBytes(cfg.MinImageBytes),
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithConcurrency(cfg.FetchConcurrency),
		fetch.WithLogger(logger),
	)
	encoder := encode.NewEncoder(cfg.FFmpegPath)

	pipelineCfg := render.Config{
		CanvasWidth:        cfg.CanvasWidth,
		CanvasHeight:       cfg.CanvasHeight,
		FPS:                cfg.FPS,
		DefaultDurationSec: cfg.DefaultDurationSec,
		MinDurationSec:     cfg.MinDurationSec,
		FitMode:            fitMode,
		KenBurns:           cfg.KenBurns,
		PlaceholderFrames:  cfg.PlaceholderFrames,
		MaxImages:          cfg.MaxImages,
		JobTimeout:         cfg.JobTimeout,
		EncodeParams: encode.Params{
			CRF:         cfg.VideoCRF,
			MaxRateK:    cfg.VideoMaxRateK,
			BufSizeK:    cfg.VideoBufSizeK,
			Preset:      "fast",
			SilentAudio: cfg.SilentAudio,
		},
	}

	var pipelineOpts []render.PipelineOption
	if cfg.CreditsEnabled() {
		creditsClient, err := credits.NewClient(cfg.CreditsURL, credits.WithAPIKey(cfg.CreditsAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create credits client: %w", err)
		}
		pipelineOpts = append(pipelineOpts, render.WithCreditsGate(creditsClient))
		logger.Info("credits gate configured", slog.String("url", cfg.CreditsURL))
	}

	pipeline := render.NewPipeline(normalizer, resolver, encoder, store, pipelineCfg, logger, pipelineOpts...)

	repo := job.NewMemoryRepository()
	pool := job.NewPool(cfg.WorkerCount, cfg.QueueSize, logger)
	svc := render.NewService(repo, pipeline, pool, store, logger)

	janitor := cleanup.NewJanitor(
		[]string{cfg.TempDir, cfg.VideoDir},
		cfg.CleanupTTL,
		cfg.CleanupEvery,
		logger,
	)

	return &Dependencies{
		RenderService: svc,
		Pool:          pool,
		Janitor:       janitor,
	}, nil
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	local, err := storage.NewLocalStorage(cfg.TempDir, cfg.VideoDir, cfg.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(local, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
		slog.String("video_dir", cfg.VideoDir),
	)
	return local, nil
}
