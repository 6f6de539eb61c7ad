// Package main provides the entry point for the slideshow render API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/slidereel/slidereel-api/internal/bootstrap"
	"github.com/slidereel/slidereel-api/internal/config"
	"github.com/slidereel/slidereel-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development; real deployments use the environment.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting slidereel API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("video_dir", cfg.VideoDir),
		slog.String("temp_dir", cfg.TempDir),
		slog.Int("canvas_width", cfg.CanvasWidth),
		slog.Int("canvas_height", cfg.CanvasHeight),
		slog.String("fit_mode", cfg.FitMode),
		slog.Int("workers", cfg.WorkerCount),
		slog.Bool("credits_enabled", cfg.CreditsEnabled()),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
	)

	deps, err := bootstrap.NewDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	// Background workers and the cleanup scheduler run for the process lifetime.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	deps.Pool.Start(workerCtx)

	if err := deps.Janitor.Start(); err != nil {
		return fmt.Errorf("start cleanup janitor: %w", err)
	}

	handlers := server.NewHandlers(deps.RenderService, cfg, logger)
	routerCfg := server.DefaultConfig()
	routerCfg.VideoDir = cfg.VideoDir
	router := server.NewRouter(handlers, logger, routerCfg)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Synchronous renders can take minutes
		IdleTimeout:  60 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal",
			slog.String("signal", sig.String()),
		)
	case err := <-errCh:
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("shutting down server...")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	deps.Janitor.Stop()
	deps.Pool.Stop()

	logger.Info("server stopped gracefully")
	return nil
}
