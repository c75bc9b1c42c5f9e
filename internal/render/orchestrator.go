package render

import (
	"context"
	"time"

	"cvrender/internal/blob"
	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
	"cvrender/internal/pkg/logger"
)

// Orchestrator drives a render job through its lifecycle:
// pending -> processing -> completed|failed. It is constructed once at
// process start and shared by the API handlers and the worker loop.
type Orchestrator struct {
	store Store
	blobs blob.Store
	conv  Converter
	log   *logger.Logger
}

// NewOrchestrator wires the orchestrator's collaborators.
func NewOrchestrator(store Store, blobs blob.Store, conv Converter, log *logger.Logger) *Orchestrator {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Orchestrator{
		store: store,
		blobs: blobs,
		conv:  conv,
		log:   log.WithComponent("orchestrator"),
	}
}

// Admit validates the request, charges the user's monthly quota, and
// creates a pending job. The quota increment and the job insert commit in
// the same transaction so a partial failure never grants an unmetered
// render.
func (o *Orchestrator) Admit(ctx context.Context, userID, documentID string, format models.OutputFormat) (*models.RenderJob, error) {
	if _, err := models.ParseOutputFormat(string(format)); err != nil {
		return nil, errors.Validation(err.Error())
	}

	// Ownership check happens up front so a foreign document reads as 404,
	// not as a quota charge.
	if _, err := o.store.GetDocumentForUser(ctx, documentID, userID); err != nil {
		return nil, err
	}

	job, err := o.store.AdmitJob(ctx, userID, documentID, format)
	if err != nil {
		return nil, err
	}

	o.log.FromContext(ctx).WithJobID(job.ID).Info("render job admitted",
		"document_id", documentID,
		"format", string(format),
	)
	return job, nil
}

// Execute runs the job state machine to a terminal state. It is safe to
// call from the API fallback path and from workers, and safe to call again
// on queue redelivery: a job that already reached a terminal state is
// returned unchanged with no side effects.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) (*models.RenderJob, error) {
	log := o.log.FromContext(ctx).WithJobID(jobID)

	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Status.IsTerminal() {
		log.Debug("job already terminal, skipping", "status", string(job.Status))
		return job, nil
	}

	doc, err := o.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		if errors.IsNotFound(err) {
			// Terminal, non-retryable: the document is gone.
			return o.fail(ctx, jobID, "document not found")
		}
		return nil, err
	}

	now := time.Now().UTC()
	ok, err := o.store.MarkProcessing(ctx, jobID, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race against another execution that finished first.
		return o.store.GetJob(ctx, jobID)
	}

	log.Info("render started", "format", string(job.OutputFormat))

	output, err := o.conv.Render(ctx, RenderInput{
		YAMLContent:    doc.YAMLContent,
		DesignOverride: doc.DesignOverride,
		LocaleOverride: doc.LocaleOverride,
		Format:         job.OutputFormat,
	})
	if err != nil {
		log.Warn("render failed", "error", err.Error())
		return o.fail(ctx, jobID, failureMessage(err))
	}

	// The path depends only on (user, document, job, format), so concurrent
	// executions of the same job write the same key: last writer wins and
	// the bytes are expected identical.
	path := blob.OutputPath(job.UserID, job.DocumentID, jobID, job.OutputFormat)

	if _, err := o.blobs.Save(ctx, output, path, blob.ContentTypeFor(job.OutputFormat)); err != nil {
		log.Error("artifact write failed", "path", path, "error", err.Error())
		return o.fail(ctx, jobID, failureMessage(err))
	}

	url, err := o.blobs.URL(ctx, path, 0)
	if err != nil {
		log.Error("artifact url failed", "path", path, "error", err.Error())
		return o.fail(ctx, jobID, failureMessage(err))
	}

	completedAt := time.Now().UTC()
	ok, err = o.store.CompleteJob(ctx, jobID, JobOutput{
		Path:      path,
		URL:       url,
		SizeBytes: int64(len(output)),
	}, completedAt)
	if err != nil {
		return nil, err
	}
	if !ok {
		log.Debug("completion lost race, keeping existing terminal record")
	} else {
		log.Info("render completed",
			"path", path,
			"size_bytes", len(output),
			"duration_ms", completedAt.Sub(now).Milliseconds(),
		)
	}

	return o.store.GetJob(ctx, jobID)
}

// fail records a failure on the job and returns the terminal record. The
// job row, not the call stack, is the durable record of the failure.
func (o *Orchestrator) fail(ctx context.Context, jobID, message string) (*models.RenderJob, error) {
	if len(message) > 2000 {
		message = message[:2000]
	}
	if _, err := o.store.FailJob(ctx, jobID, message, time.Now().UTC()); err != nil {
		return nil, err
	}
	return o.store.GetJob(ctx, jobID)
}

// GetJob returns a job owned by the user.
func (o *Orchestrator) GetJob(ctx context.Context, jobID, userID string) (*models.RenderJob, error) {
	return o.store.GetJobForUser(ctx, jobID, userID)
}

// ListJobs returns one page of the user's jobs plus the total count.
func (o *Orchestrator) ListJobs(ctx context.Context, userID string, f JobFilter) ([]models.RenderJob, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = 20
	}
	if f.PerPage > 100 {
		f.PerPage = 100
	}
	if f.Status != "" {
		switch f.Status {
		case models.StatusPending, models.StatusProcessing, models.StatusCompleted, models.StatusFailed:
		default:
			return nil, 0, errors.Validationf("unknown status filter: %q", string(f.Status))
		}
	}
	return o.store.ListJobs(ctx, userID, f)
}

// Output is a completed job's artifact ready for download.
type Output struct {
	Data        []byte
	ContentType string
	Filename    string
}

// GetOutput loads the artifact of a completed job. Jobs that have not
// completed yield a NOT_READY error.
func (o *Orchestrator) GetOutput(ctx context.Context, jobID, userID string) (*Output, error) {
	job, err := o.store.GetJobForUser(ctx, jobID, userID)
	if err != nil {
		return nil, err
	}

	if job.Status != models.StatusCompleted {
		return nil, errors.NotReady(jobID, string(job.Status))
	}
	if job.OutputPath == "" {
		return nil, errors.NotFound("render output", jobID)
	}

	data, ok, err := o.blobs.Get(ctx, job.OutputPath)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator.output", "read render output")
	}
	if !ok {
		return nil, errors.NotFound("render output", jobID)
	}

	docName := ""
	if doc, err := o.store.GetDocument(ctx, job.DocumentID); err == nil {
		docName = doc.Name
	}
	filename := blob.OutputFilename(docName, job.OutputFormat)

	return &Output{
		Data:        data,
		ContentType: blob.ContentTypeFor(job.OutputFormat),
		Filename:    filename,
	}, nil
}

// DeleteJob removes the job record and best-effort deletes its artifact.
// The blob delete failing never fails the request.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID, userID string) error {
	job, err := o.store.DeleteJob(ctx, jobID, userID)
	if err != nil {
		return err
	}

	if job.OutputPath != "" {
		if _, err := o.blobs.Delete(ctx, job.OutputPath); err != nil {
			o.log.FromContext(ctx).WithJobID(jobID).Warn("artifact delete failed",
				"path", job.OutputPath,
				"error", err.Error(),
			)
		}
	}
	return nil
}

// failureMessage prefers the coded error's message; the full chain string
// would leak wrapping context into user-visible job records.
func failureMessage(err error) string {
	var svcErr *errors.Error
	if errors.As(err, &svcErr) {
		return svcErr.Message
	}
	return err.Error()
}
