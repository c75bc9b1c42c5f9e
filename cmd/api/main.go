package main

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cvrender/internal/blob"
	"cvrender/internal/config"
	"cvrender/internal/dispatch"
	"cvrender/internal/httpapi"
	"cvrender/internal/httpapi/handlers"
	"cvrender/internal/pkg/logger"
	"cvrender/internal/pkg/shutdown"
	"cvrender/internal/render"
	"cvrender/internal/repositories"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault().LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		ServiceName: "cvrender-api",
	})

	log.Info("starting API",
		"version", "0.1.0",
		"env", cfg.Env,
	)

	ctx := context.Background()
	shutdownMgr := shutdown.NewManager(log, 30*time.Second)

	log.Info("connecting to PostgreSQL")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	shutdownMgr.RegisterSimple("postgres", pool.Close)

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}
	log.Info("PostgreSQL connected")

	log.Info("connecting to Redis")
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	shutdownMgr.Register("redis", func(ctx context.Context) error {
		return rdb.Close()
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}
	log.Info("Redis connected")

	blobs, err := blob.NewStore(cfg)
	if err != nil {
		log.LogFatal("failed to initialize blob storage", err)
	}
	log.Info("blob storage initialized", "backend", blobs.Backend())

	dispatcher := dispatch.NewQueueDispatcher(cfg.RedisAddr, dispatch.Options{
		Timeout:   cfg.MaxRenderTimeout,
		Retention: cfg.ResultTTL,
	})
	shutdownMgr.Register("dispatcher", func(ctx context.Context) error {
		return dispatcher.Close()
	})

	store := repositories.NewRenderRepository(pool)
	conv := render.NewHTTPConverter(cfg.ConverterBaseURL, cfg.MaxRenderTimeout)
	orch := render.NewOrchestrator(store, blobs, conv, log)

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.New(handlers.Deps{
			Orch:       orch,
			Dispatcher: dispatcher,
			Queue:      dispatcher,
			Blobs:      blobs,
			Pool:       pool,
			RDB:        rdb,
			Log:        log,
		}),
		Config: cfg,
		Log:    log,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
