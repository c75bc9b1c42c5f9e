package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cvrender/internal/blob"
	"cvrender/internal/config"
	"cvrender/internal/dispatch"
	"cvrender/internal/pkg/logger"
	"cvrender/internal/pkg/shutdown"
	"cvrender/internal/render"
	"cvrender/internal/repositories"
	"cvrender/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "cvrender-worker",
	})

	log.Info("starting worker",
		"version", "0.1.0",
		"env", cfg.Env,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 60*time.Second)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.RegisterSimple("postgres", pool.Close)

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	blobs, err := blob.NewStore(cfg)
	if err != nil {
		log.LogFatal("failed to initialize blob storage", err)
	}
	log.Info("blob storage initialized", "backend", blobs.Backend())

	store := repositories.NewRenderRepository(pool)
	conv := render.NewHTTPConverter(cfg.ConverterBaseURL, cfg.MaxRenderTimeout)
	orch := render.NewOrchestrator(store, blobs, conv, log)

	dispatcher := dispatch.NewQueueDispatcher(cfg.RedisAddr, dispatch.Options{
		Timeout:   cfg.MaxRenderTimeout,
		Retention: cfg.ResultTTL,
	})
	shutdownMgr.Register("dispatcher", func(ctx context.Context) error {
		return dispatcher.Close()
	})

	workerCtx, stopWorker := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		err := worker.Run(workerCtx, worker.Deps{
			RedisAddr:   cfg.RedisAddr,
			Concurrency: cfg.WorkerConcurrency,
			Exec:        orch,
			Log:         log,
		})
		if err != nil && err != context.Canceled {
			log.LogFatal("worker stopped", err)
		}
	}()

	// Maintenance sweep: expired archived tasks, plus old local artifacts
	// when ARTIFACT_TTL_SECONDS is set. Bucket lifecycle rules cover S3.
	sweepDeps := worker.SweepDeps{
		Queue:       dispatcher,
		FailureTTL:  cfg.FailureTTL,
		ArtifactTTL: cfg.ArtifactTTL,
		Interval:    time.Hour,
		Log:         log,
	}
	if local, ok := blobs.(*blob.Local); ok {
		sweepDeps.Artifacts = local
	}
	go worker.RunSweeper(workerCtx, sweepDeps)

	// Waits for in-flight jobs before reporting the worker as stopped.
	shutdownMgr.Register("worker", func(ctx context.Context) error {
		stopWorker()
		select {
		case <-stopped:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	shutdownMgr.Wait()
}
