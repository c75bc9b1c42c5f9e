// Package worker runs the asynq consumer that executes render jobs.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cvrender/internal/dispatch"
	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
	"cvrender/internal/pkg/logger"

	"github.com/hibiken/asynq"
)

// Executor runs one job to a terminal state. Satisfied by
// render.Orchestrator.
type Executor interface {
	Execute(ctx context.Context, jobID string) (*models.RenderJob, error)
}

// Deps carries everything the worker runtime needs.
type Deps struct {
	RedisAddr   string
	Concurrency int
	Exec        Executor
	Log         *logger.Logger
}

// Run starts the asynq server and blocks until ctx is canceled. Shutdown
// waits for in-flight jobs before returning.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	if d.Concurrency <= 0 {
		d.Concurrency = 4
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: d.RedisAddr},
		asynq.Config{
			Concurrency: d.Concurrency,
			Queues: map[string]int{
				dispatch.QueueRender: 1,
			},
			Logger: asynqLogger{log},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(dispatch.TaskTypeRenderJob, NewHandler(d.Exec, log))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(mux)
	}()

	log.Info("worker started",
		"queue", dispatch.QueueRender,
		"concurrency", d.Concurrency,
	)

	select {
	case <-ctx.Done():
		log.Info("worker context canceled, stopping")
		srv.Shutdown()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != asynq.ErrServerClosed {
			return err
		}
		return nil
	}
}

// NewHandler builds the task handler for render jobs. Render failures are
// recorded on the job row by the executor and swallowed here; only store
// outages propagate, so asynq redelivers exactly the work that could not
// reach the database.
func NewHandler(exec Executor, log *logger.Logger) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		var payload dispatch.TaskPayload
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			log.Error("malformed task payload, dropping", "error", err.Error())
			// Retrying a payload that cannot be decoded gets us nowhere.
			return nil
		}

		jobCtx := logger.ContextWithJobID(ctx, payload.JobID)
		jobLog := log.WithJobID(payload.JobID)

		start := time.Now()
		job, err := exec.Execute(jobCtx, payload.JobID)
		if err != nil {
			if errors.IsCode(err, errors.CodeStoreUnavailable) {
				jobLog.Warn("store unavailable, leaving task for redelivery",
					"error", err.Error(),
				)
				return err
			}
			// The job row is gone or unreachable in a non-retryable way.
			jobLog.Error("job execution failed",
				"error", err.Error(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}

		jobLog.Info("job finished",
			"status", string(job.Status),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

// asynqLogger adapts our structured logger to asynq's interface.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...any) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.log.Error(fmt.Sprint(args...)) }
