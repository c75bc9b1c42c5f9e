package render

import (
	"context"
	"time"

	"cvrender/internal/models"
)

// JobOutput records where a completed render landed.
type JobOutput struct {
	Path      string
	URL       string
	SizeBytes int64
}

// JobFilter narrows and pages a job listing.
type JobFilter struct {
	DocumentID string
	Status     models.Status
	Page       int
	PerPage    int
}

// Store is the durable record of users, documents and render jobs. The
// pgx-backed implementation lives in internal/repositories; tests use an
// in-memory fake. Implementations report missing rows as coded NOT_FOUND
// errors and connection failures as STORE_UNAVAILABLE.
type Store interface {
	// AdmitJob checks the owner's monthly quota, increments the counter,
	// and inserts a pending job, all in one transaction. Returns a coded
	// QUOTA_EXCEEDED error when the user is at their limit.
	AdmitJob(ctx context.Context, userID, documentID string, format models.OutputFormat) (*models.RenderJob, error)

	GetJob(ctx context.Context, jobID string) (*models.RenderJob, error)
	GetJobForUser(ctx context.Context, jobID, userID string) (*models.RenderJob, error)

	GetDocument(ctx context.Context, documentID string) (*models.Document, error)
	GetDocumentForUser(ctx context.Context, documentID, userID string) (*models.Document, error)

	// MarkProcessing transitions a non-terminal job to processing,
	// preserving an earlier started_at on redelivery. Returns false when
	// the job is already terminal.
	MarkProcessing(ctx context.Context, jobID string, at time.Time) (bool, error)

	// CompleteJob finishes a processing job. Returns false when the job
	// was no longer in processing (a concurrent execution won).
	CompleteJob(ctx context.Context, jobID string, out JobOutput, at time.Time) (bool, error)

	// FailJob marks a non-terminal job failed with the given message.
	// Returns false when the job was already terminal.
	FailJob(ctx context.Context, jobID string, message string, at time.Time) (bool, error)

	// ListJobs returns one page of the user's jobs, newest first, plus the
	// total count across all pages.
	ListJobs(ctx context.Context, userID string, f JobFilter) ([]models.RenderJob, int, error)

	// DeleteJob removes a job owned by the user and returns the deleted
	// record so callers can clean up its artifact.
	DeleteJob(ctx context.Context, jobID, userID string) (*models.RenderJob, error)
}
