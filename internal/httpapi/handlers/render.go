package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"cvrender/internal/httpkit"
	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
	"cvrender/internal/pkg/logger"
	"cvrender/internal/render"
)

// userID extracts the caller identity from the X-User-ID header. Stands in
// for real authentication until the gateway terminates sessions.
func userID(r *http.Request) (string, error) {
	id := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if id == "" {
		return "", errors.Validation("missing X-User-ID header")
	}
	return id, nil
}

func requestFormat(r *http.Request) (models.OutputFormat, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("format"))
	if raw == "" {
		return models.FormatPDF, nil
	}
	f, err := models.ParseOutputFormat(raw)
	if err != nil {
		return "", errors.Validation(err.Error())
	}
	return f, nil
}

// PostRender admits a job and hands it to the queue. When the queue is
// down the render runs inline on the request goroutine instead, so a Redis
// outage degrades latency rather than availability.
func (h *Handler) PostRender(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	uid, err := userID(r)
	if err != nil {
		return err
	}
	ctx = logger.ContextWithUserID(ctx, uid)

	format, err := requestFormat(r)
	if err != nil {
		return err
	}

	documentID := chi.URLParam(r, "documentID")
	job, err := h.orch.Admit(ctx, uid, documentID, format)
	if err != nil {
		return err
	}

	if err := h.dispatcher.Dispatch(ctx, job.ID); err != nil {
		if !errors.IsCode(err, errors.CodeDispatchUnavailable) {
			return err
		}
		h.log.FromContext(ctx).WithJobID(job.ID).Warn("queue unavailable, rendering inline",
			"error", err.Error(),
		)
		job, err = h.orch.Execute(ctx, job.ID)
		if err != nil {
			return err
		}
	}

	httpkit.WriteJSON(w, http.StatusAccepted, map[string]any{"job": job})
	return nil
}

// PostRenderSync admits and renders on the request goroutine, returning
// the terminal job.
func (h *Handler) PostRenderSync(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	uid, err := userID(r)
	if err != nil {
		return err
	}
	ctx = logger.ContextWithUserID(ctx, uid)

	format, err := requestFormat(r)
	if err != nil {
		return err
	}

	documentID := chi.URLParam(r, "documentID")
	job, err := h.orch.Admit(ctx, uid, documentID, format)
	if err != nil {
		return err
	}

	job, err = h.orch.Execute(ctx, job.ID)
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
	return nil
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	uid, err := userID(r)
	if err != nil {
		return err
	}

	q := r.URL.Query()
	f := render.JobFilter{
		DocumentID: strings.TrimSpace(q.Get("document_id")),
		Status:     models.Status(strings.TrimSpace(q.Get("status"))),
		Page:       atoiDefault(q.Get("page"), 1),
		PerPage:    atoiDefault(q.Get("per_page"), 20),
	}

	jobs, total, err := h.orch.ListJobs(ctx, uid, f)
	if err != nil {
		return err
	}
	if jobs == nil {
		jobs = []models.RenderJob{}
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":     jobs,
		"total":    total,
		"page":     f.Page,
		"per_page": f.PerPage,
	})
	return nil
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	job, err := h.orch.GetJob(r.Context(), chi.URLParam(r, "jobID"), uid)
	if err != nil {
		return err
	}

	httpkit.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
	return nil
}

// DownloadJob streams the artifact of a completed job.
func (h *Handler) DownloadJob(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	out, err := h.orch.GetOutput(r.Context(), chi.URLParam(r, "jobID"), uid)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", out.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(out.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", out.Filename))
	_, _ = w.Write(out.Data)
	return nil
}

func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	if err := h.orch.DeleteJob(r.Context(), chi.URLParam(r, "jobID"), uid); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func atoiDefault(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
