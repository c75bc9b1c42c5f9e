package handlers

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"cvrender/internal/blob"
	"cvrender/internal/dispatch"
	"cvrender/internal/pkg/logger"
	"cvrender/internal/render"
)

// QueueStatser reports render queue depth for the deep health check.
type QueueStatser interface {
	Stats(ctx context.Context) (*dispatch.QueueStats, error)
}

type Deps struct {
	Orch       *render.Orchestrator
	Dispatcher dispatch.Dispatcher
	Queue      QueueStatser
	Blobs      blob.Store
	Pool       *pgxpool.Pool
	RDB        *redis.Client
	Log        *logger.Logger
}

type Handler struct {
	orch       *render.Orchestrator
	dispatcher dispatch.Dispatcher
	queue      QueueStatser
	blobs      blob.Store
	pool       *pgxpool.Pool
	rdb        *redis.Client
	log        *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	return &Handler{
		orch:       d.Orch,
		dispatcher: d.Dispatcher,
		queue:      d.Queue,
		blobs:      d.Blobs,
		pool:       d.Pool,
		rdb:        d.RDB,
		log:        log.WithComponent("httpapi"),
	}
}
