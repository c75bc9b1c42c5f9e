// Package dispatch hands admitted render jobs to the worker pool over
// Redis. The API never fails a request because the queue is down: enqueue
// errors come back coded so the caller can fall back to rendering inline.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"cvrender/internal/pkg/errors"

	"github.com/hibiken/asynq"
)

const (
	// TaskTypeRenderJob identifies render tasks on the wire.
	TaskTypeRenderJob = "render:job"

	// QueueRender is the asynq queue render tasks are enqueued on.
	QueueRender = "render"
)

// TaskPayload is the body of a render task. Only the job ID travels on the
// queue; workers load the rest from the store so stale payloads cannot
// override the database.
type TaskPayload struct {
	JobID string `json:"job_id"`
}

// Dispatcher enqueues a job for asynchronous execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// QueueDispatcher dispatches on asynq over Redis.
type QueueDispatcher struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	timeout   time.Duration
	retention time.Duration
}

// Options tunes the enqueued tasks.
type Options struct {
	// Timeout bounds a single execution of a task.
	Timeout time.Duration
	// Retention keeps completed task metadata around for inspection.
	Retention time.Duration
}

func NewQueueDispatcher(redisAddr string, opt Options) *QueueDispatcher {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Minute
	}
	if opt.Retention <= 0 {
		opt.Retention = time.Hour
	}
	return &QueueDispatcher{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		timeout:   opt.Timeout,
		retention: opt.Retention,
	}
}

// Dispatch enqueues the job. Failures are reported as DISPATCH_UNAVAILABLE
// so the API can render inline instead.
func (d *QueueDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return errors.Wrap(err, "dispatch.enqueue", "encode task payload")
	}

	task := asynq.NewTask(TaskTypeRenderJob, body, asynq.Queue(QueueRender))
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Timeout(d.timeout),
		asynq.Retention(d.retention),
		asynq.MaxRetry(1),
	)
	if err != nil {
		return errors.DispatchUnavailable(err)
	}
	return nil
}

// QueueStats is a snapshot of the render queue, exposed on the deep health
// endpoint.
type QueueStats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Retry     int `json:"retry"`
	Archived  int `json:"archived"`
	Completed int `json:"completed"`
}

func (d *QueueDispatcher) Stats(ctx context.Context) (*QueueStats, error) {
	info, err := d.inspector.GetQueueInfo(QueueRender)
	if err != nil {
		return nil, errors.DispatchUnavailable(err)
	}
	return &QueueStats{
		Pending:   info.Pending,
		Active:    info.Active,
		Retry:     info.Retry,
		Archived:  info.Archived,
		Completed: info.Completed,
	}, nil
}

// PruneArchived deletes archived render tasks whose last failure is older
// than olderThan, returning the number removed. asynq has no per-task TTL
// for the archive, so the worker sweeps it periodically.
func (d *QueueDispatcher) PruneArchived(ctx context.Context, olderThan time.Duration) (int, error) {
	tasks, err := d.inspector.ListArchivedTasks(QueueRender, asynq.PageSize(100))
	if err != nil {
		return 0, errors.DispatchUnavailable(err)
	}

	cutoff := time.Now().Add(-olderThan)
	deleted := 0
	for _, t := range tasks {
		if t.LastFailedAt.IsZero() || !t.LastFailedAt.Before(cutoff) {
			continue
		}
		if err := d.inspector.DeleteTask(QueueRender, t.ID); err != nil {
			return deleted, errors.DispatchUnavailable(err)
		}
		deleted++
	}
	return deleted, nil
}

// Close releases the underlying Redis connections.
func (d *QueueDispatcher) Close() error {
	cerr := d.client.Close()
	if ierr := d.inspector.Close(); ierr != nil && cerr == nil {
		cerr = ierr
	}
	return cerr
}
