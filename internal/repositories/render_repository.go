package repositories

import (
	"context"
	"fmt"
	"time"

	"cvrender/internal/httpkit"
	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
	"cvrender/internal/render"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RenderRepository is the pgx-backed render.Store.
type RenderRepository struct {
	db *pgxpool.Pool
}

var _ render.Store = (*RenderRepository)(nil)

func NewRenderRepository(db *pgxpool.Pool) *RenderRepository {
	return &RenderRepository{db: db}
}

const jobColumns = `
	id, document_id, user_id, status, output_format,
	output_path, output_url, file_size_bytes, error_message,
	created_at, started_at, completed_at
`

func scanJob(row pgx.Row) (*models.RenderJob, error) {
	var j models.RenderJob
	err := row.Scan(
		&j.ID,
		&j.DocumentID,
		&j.UserID,
		&j.Status,
		&j.OutputFormat,
		&j.OutputPath,
		&j.OutputURL,
		&j.FileSizeBytes,
		&j.ErrorMessage,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// AdmitJob charges the user's monthly quota and inserts the pending job in
// one transaction. The user row is locked for the duration so two
// concurrent requests at the quota boundary cannot both be admitted.
func (r *RenderRepository) AdmitJob(ctx context.Context, userID, documentID string, format models.OutputFormat) (*models.RenderJob, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, errors.StoreUnavailable(err)
	}
	defer tx.Rollback(ctx)

	var u models.User
	err = tx.QueryRow(ctx, `
		SELECT id, tier, renders_this_month, renders_reset_at, is_active
		FROM users
		WHERE id=$1
		FOR UPDATE
	`, userID).Scan(&u.ID, &u.Tier, &u.RendersThisMonth, &u.RendersResetAt, &u.IsActive)
	if err != nil {
		return nil, mapRowErr(err, "user", userID)
	}

	if !u.IsActive {
		return nil, errors.Validation("user account is disabled")
	}

	// Roll the counter over when the reset moment has passed. The reset
	// timestamp lands on the first day of the next calendar month.
	now := time.Now().UTC()
	if u.RendersResetAt == nil || !now.Before(*u.RendersResetAt) {
		u.RendersThisMonth = 0
		reset := nextMonthStart(now)
		u.RendersResetAt = &reset
	}

	if !u.CanRender() {
		return nil, errors.QuotaExceeded(u.RenderLimit())
	}

	_, err = tx.Exec(ctx, `
		UPDATE users
		SET renders_this_month=$2, renders_reset_at=$3
		WHERE id=$1
	`, userID, u.RendersThisMonth+1, u.RendersResetAt)
	if err != nil {
		return nil, errors.StoreUnavailable(err)
	}

	jobID := uuid.NewString()
	row := tx.QueryRow(ctx, `
		INSERT INTO render_jobs (id, document_id, user_id, status, output_format)
		VALUES ($1,$2,$3,'pending',$4)
		RETURNING `+jobColumns+`
	`, jobID, documentID, userID, format)
	job, err := scanJob(row)
	if err != nil {
		if httpkit.IsForeignKeyViolation(err) {
			return nil, errors.NotFound("document", documentID)
		}
		return nil, errors.StoreUnavailable(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.StoreUnavailable(err)
	}
	return job, nil
}

func (r *RenderRepository) GetJob(ctx context.Context, jobID string) (*models.RenderJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM render_jobs
		WHERE id=$1
	`, jobID))
	if err != nil {
		return nil, mapRowErr(err, "render job", jobID)
	}
	return job, nil
}

func (r *RenderRepository) GetJobForUser(ctx context.Context, jobID, userID string) (*models.RenderJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM render_jobs
		WHERE id=$1 AND user_id=$2
	`, jobID, userID))
	if err != nil {
		return nil, mapRowErr(err, "render job", jobID)
	}
	return job, nil
}

func (r *RenderRepository) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	return r.getDocument(ctx, `
		SELECT id, user_id, name, yaml_content, design_override, locale_override, theme, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID)
}

func (r *RenderRepository) GetDocumentForUser(ctx context.Context, documentID, userID string) (*models.Document, error) {
	return r.getDocument(ctx, `
		SELECT id, user_id, name, yaml_content, design_override, locale_override, theme, created_at, updated_at
		FROM documents
		WHERE id=$1 AND user_id=$2
	`, documentID, userID)
}

func (r *RenderRepository) getDocument(ctx context.Context, query string, args ...any) (*models.Document, error) {
	var d models.Document
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&d.ID,
		&d.UserID,
		&d.Name,
		&d.YAMLContent,
		&d.DesignOverride,
		&d.LocaleOverride,
		&d.Theme,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		id := ""
		if len(args) > 0 {
			id, _ = args[0].(string)
		}
		return nil, mapRowErr(err, "document", id)
	}
	return &d, nil
}

// MarkProcessing is a guarded update: terminal rows are left untouched and
// reported as false. started_at survives a redelivered execution.
func (r *RenderRepository) MarkProcessing(ctx context.Context, jobID string, at time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='processing', started_at=COALESCE(started_at, $2)
		WHERE id=$1 AND status IN ('pending','processing')
	`, jobID, at)
	if err != nil {
		return false, errors.StoreUnavailable(err)
	}
	if cmd.RowsAffected() == 0 {
		return r.guardMiss(ctx, jobID)
	}
	return true, nil
}

func (r *RenderRepository) CompleteJob(ctx context.Context, jobID string, out render.JobOutput, at time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='completed', output_path=$2, output_url=$3, file_size_bytes=$4, completed_at=$5
		WHERE id=$1 AND status='processing'
	`, jobID, out.Path, out.URL, out.SizeBytes, at)
	if err != nil {
		return false, errors.StoreUnavailable(err)
	}
	if cmd.RowsAffected() == 0 {
		return r.guardMiss(ctx, jobID)
	}
	return true, nil
}

func (r *RenderRepository) FailJob(ctx context.Context, jobID string, message string, at time.Time) (bool, error) {
	cmd, err := r.db.Exec(ctx, `
		UPDATE render_jobs
		SET status='failed', error_message=$2, completed_at=$3
		WHERE id=$1 AND status IN ('pending','processing')
	`, jobID, message, at)
	if err != nil {
		return false, errors.StoreUnavailable(err)
	}
	if cmd.RowsAffected() == 0 {
		return r.guardMiss(ctx, jobID)
	}
	return true, nil
}

// guardMiss distinguishes "row absent" from "row present but the status
// guard rejected the update".
func (r *RenderRepository) guardMiss(ctx context.Context, jobID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM render_jobs WHERE id=$1)`, jobID).Scan(&exists)
	if err != nil {
		return false, errors.StoreUnavailable(err)
	}
	if !exists {
		return false, errors.NotFound("render job", jobID)
	}
	return false, nil
}

func (r *RenderRepository) ListJobs(ctx context.Context, userID string, f render.JobFilter) ([]models.RenderJob, int, error) {
	where := "WHERE user_id=$1"
	args := []any{userID}
	if f.DocumentID != "" {
		args = append(args, f.DocumentID)
		where += fmt.Sprintf(" AND document_id=$%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM render_jobs `+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.StoreUnavailable(err)
	}

	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM render_jobs
		`+where+`
		ORDER BY created_at DESC
		LIMIT $`+fmt.Sprint(len(args)-1)+` OFFSET $`+fmt.Sprint(len(args)),
		args...)
	if err != nil {
		return nil, 0, errors.StoreUnavailable(err)
	}
	defer rows.Close()

	var out []models.RenderJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, errors.StoreUnavailable(err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.StoreUnavailable(err)
	}
	return out, total, nil
}

func (r *RenderRepository) DeleteJob(ctx context.Context, jobID, userID string) (*models.RenderJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `
		DELETE FROM render_jobs
		WHERE id=$1 AND user_id=$2
		RETURNING `+jobColumns+`
	`, jobID, userID))
	if err != nil {
		return nil, mapRowErr(err, "render job", jobID)
	}
	return job, nil
}

// mapRowErr turns a QueryRow scan error into the service error taxonomy.
func mapRowErr(err error, resource, id string) error {
	if err == pgx.ErrNoRows {
		return errors.NotFound(resource, id)
	}
	return errors.StoreUnavailable(err)
}

// nextMonthStart returns midnight UTC on the first day of the month after t.
func nextMonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
