package handlers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cvrender/internal/config"
	"cvrender/internal/dispatch"
	"cvrender/internal/httpapi"
	"cvrender/internal/httpapi/handlers"
	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
	"cvrender/internal/render"
)

// fakeStore is a minimal in-memory render.Store for handler tests.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*models.User
	docs  map[string]*models.Document
	jobs  map[string]*models.RenderJob
	seq   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: map[string]*models.User{},
		docs:  map[string]*models.Document{},
		jobs:  map[string]*models.RenderJob{},
	}
}

func (s *fakeStore) AdmitJob(ctx context.Context, userID, documentID string, format models.OutputFormat) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, errors.NotFound("user", userID)
	}
	if !u.CanRender() {
		return nil, errors.QuotaExceeded(u.RenderLimit())
	}
	u.RendersThisMonth++
	s.seq++
	job := &models.RenderJob{
		ID:           fmt.Sprintf("job-%d", s.seq),
		DocumentID:   documentID,
		UserID:       userID,
		Status:       models.StatusPending,
		OutputFormat: format,
		CreatedAt:    time.Now().UTC(),
	}
	s.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (s *fakeStore) GetJob(ctx context.Context, jobID string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, errors.NotFound("render job", jobID)
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) GetJobForUser(ctx context.Context, jobID, userID string) (*models.RenderJob, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil || job.UserID != userID {
		return nil, errors.NotFound("render job", jobID)
	}
	return job, nil
}

func (s *fakeStore) GetDocument(ctx context.Context, documentID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[documentID]
	if !ok {
		return nil, errors.NotFound("document", documentID)
	}
	cp := *doc
	return &cp, nil
}

func (s *fakeStore) GetDocumentForUser(ctx context.Context, documentID, userID string) (*models.Document, error) {
	doc, err := s.GetDocument(ctx, documentID)
	if err != nil || doc.UserID != userID {
		return nil, errors.NotFound("document", documentID)
	}
	return doc, nil
}

func (s *fakeStore) MarkProcessing(ctx context.Context, jobID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, errors.NotFound("render job", jobID)
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = models.StatusProcessing
	if job.StartedAt == nil {
		job.StartedAt = &at
	}
	return true, nil
}

func (s *fakeStore) CompleteJob(ctx context.Context, jobID string, out render.JobOutput, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, errors.NotFound("render job", jobID)
	}
	if job.Status != models.StatusProcessing {
		return false, nil
	}
	job.Status = models.StatusCompleted
	job.OutputPath = out.Path
	job.OutputURL = out.URL
	job.FileSizeBytes = out.SizeBytes
	job.CompletedAt = &at
	return true, nil
}

func (s *fakeStore) FailJob(ctx context.Context, jobID string, message string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, errors.NotFound("render job", jobID)
	}
	if job.Status.IsTerminal() {
		return false, nil
	}
	job.Status = models.StatusFailed
	job.ErrorMessage = message
	job.CompletedAt = &at
	return true, nil
}

func (s *fakeStore) ListJobs(ctx context.Context, userID string, f render.JobFilter) ([]models.RenderJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RenderJob
	for _, job := range s.jobs {
		if job.UserID == userID {
			out = append(out, *job)
		}
	}
	return out, len(out), nil
}

func (s *fakeStore) DeleteJob(ctx context.Context, jobID, userID string) (*models.RenderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, errors.NotFound("render job", jobID)
	}
	delete(s.jobs, jobID)
	cp := *job
	return &cp, nil
}

// fakeBlobs is an in-memory blob.Store.
type fakeBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobs() *fakeBlobs { return &fakeBlobs{objects: map[string][]byte{}} }

func (b *fakeBlobs) Backend() string { return "memory" }
func (b *fakeBlobs) Save(ctx context.Context, content []byte, path, contentType string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = append([]byte(nil), content...)
	return path, nil
}
func (b *fakeBlobs) Get(ctx context.Context, path string) ([]byte, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return data, ok, nil
}
func (b *fakeBlobs) Delete(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	delete(b.objects, path)
	return ok, nil
}
func (b *fakeBlobs) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}
func (b *fakeBlobs) URL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return "/api/v1/files/" + path, nil
}
func (b *fakeBlobs) Size(ctx context.Context, path string) (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	return int64(len(data)), ok, nil
}

type fakeConverter struct{ out []byte }

func (c fakeConverter) Render(ctx context.Context, in render.RenderInput) ([]byte, error) {
	return c.out, nil
}

// fakeDispatcher records dispatched jobs, optionally refusing them.
type fakeDispatcher struct {
	mu   sync.Mutex
	jobs []string
	down bool
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if d.down {
		return errors.DispatchUnavailable(fmt.Errorf("redis down"))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, jobID)
	return nil
}

type fixture struct {
	store      *fakeStore
	blobs      *fakeBlobs
	dispatcher *fakeDispatcher
	server     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newFakeStore()
	store.users["u1"] = &models.User{ID: "u1", Tier: models.TierFree, IsActive: true}
	store.docs["d1"] = &models.Document{ID: "d1", UserID: "u1", Name: "resume", YAMLContent: "cv: {}"}

	blobs := newFakeBlobs()
	dispatcher := &fakeDispatcher{}
	orch := render.NewOrchestrator(store, blobs, fakeConverter{out: []byte("%PDF")}, nil)

	h := handlers.New(handlers.Deps{
		Orch:       orch,
		Dispatcher: dispatcher,
		Blobs:      blobs,
	})
	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: h,
		Config:   &config.Config{CORSAllowedOrigins: []string{"*"}},
	})
	return &fixture{store: store, blobs: blobs, dispatcher: dispatcher, server: router}
}

func (f *fixture) do(t *testing.T, method, path, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if user != "" {
		req.Header.Set("X-User-ID", user)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeJob(t *testing.T, rec *httptest.ResponseRecorder) models.RenderJob {
	t.Helper()
	var body struct {
		Job models.RenderJob `json:"job"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return body.Job
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode error envelope: %v (body=%s)", err, rec.Body.String())
	}
	return env.Error.Code
}

func TestPostRenderEnqueues(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/render/d1?format=pdf", "u1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body=%s)", rec.Code, rec.Body.String())
	}

	job := decodeJob(t, rec)
	if job.Status != models.StatusPending {
		t.Errorf("status = %q, want pending", job.Status)
	}
	if len(f.dispatcher.jobs) != 1 || f.dispatcher.jobs[0] != job.ID {
		t.Errorf("dispatched = %v, want [%s]", f.dispatcher.jobs, job.ID)
	}
}

func TestPostRenderFallsBackInline(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.down = true

	rec := f.do(t, http.MethodPost, "/api/v1/render/d1", "u1")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (body=%s)", rec.Code, rec.Body.String())
	}

	job := decodeJob(t, rec)
	if job.Status != models.StatusCompleted {
		t.Errorf("inline fallback left status %q, want completed", job.Status)
	}
	if job.OutputPath == "" {
		t.Error("inline fallback produced no output path")
	}
}

func TestPostRenderRequiresUser(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/render/d1", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if code := errorCode(t, rec); code != "VALIDATION_ERROR" {
		t.Errorf("error code = %q", code)
	}
}

func TestPostRenderBadFormat(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/render/d1?format=docx", "u1")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (body=%s)", rec.Code, rec.Body.String())
	}
}

func TestPostRenderQuotaExceeded(t *testing.T) {
	f := newFixture(t)
	f.store.users["u1"].RendersThisMonth = 10

	rec := f.do(t, http.MethodPost, "/api/v1/render/d1", "u1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 (body=%s)", rec.Code, rec.Body.String())
	}
	if code := errorCode(t, rec); code != "QUOTA_EXCEEDED" {
		t.Errorf("error code = %q", code)
	}
}

func TestPostRenderSyncCompletes(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/render/d1/sync?format=html", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
	job := decodeJob(t, rec)
	if job.Status != models.StatusCompleted {
		t.Errorf("status = %q, want completed", job.Status)
	}
	if !strings.HasSuffix(job.OutputPath, "/cv.html") {
		t.Errorf("output_path = %q, want html artifact", job.OutputPath)
	}
}

func TestGetJobOwnership(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/render/d1/sync", "u1")
	job := decodeJob(t, rec)

	if rec := f.do(t, http.MethodGet, "/api/v1/render/jobs/"+job.ID, "u1"); rec.Code != http.StatusOK {
		t.Errorf("owner read status = %d, want 200", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/render/jobs/"+job.ID, "u2"); rec.Code != http.StatusNotFound {
		t.Errorf("foreign read status = %d, want 404", rec.Code)
	}
}

func TestDownloadJob(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/render/d1/sync", "u1")
	job := decodeJob(t, rec)

	dl := f.do(t, http.MethodGet, "/api/v1/render/jobs/"+job.ID+"/download", "u1")
	if dl.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", dl.Code, dl.Body.String())
	}
	if ct := dl.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("content type = %q", ct)
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "resume.pdf") {
		t.Errorf("content disposition = %q, want document-derived filename", cd)
	}
	if dl.Body.String() != "%PDF" {
		t.Errorf("body = %q", dl.Body.String())
	}
}

func TestDownloadPendingJobIsNotReady(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/render/d1", "u1")
	job := decodeJob(t, rec)

	dl := f.do(t, http.MethodGet, "/api/v1/render/jobs/"+job.ID+"/download", "u1")
	if dl.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (body=%s)", dl.Code, dl.Body.String())
	}
	if code := errorCode(t, dl); code != "NOT_READY" {
		t.Errorf("error code = %q", code)
	}
}

func TestDeleteJob(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/render/d1/sync", "u1")
	job := decodeJob(t, rec)

	del := f.do(t, http.MethodDelete, "/api/v1/render/jobs/"+job.ID, "u1")
	if del.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 (body=%s)", del.Code, del.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/render/jobs/"+job.ID, "u1"); rec.Code != http.StatusNotFound {
		t.Errorf("read after delete status = %d, want 404", rec.Code)
	}
	if ok, _ := f.blobs.Exists(context.Background(), job.OutputPath); ok {
		t.Error("artifact survived job delete")
	}
}

func TestListJobsEnvelope(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/api/v1/render/d1/sync", "u1")

	rec := f.do(t, http.MethodGet, "/api/v1/render/jobs?page=1&per_page=10", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body=%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Jobs    []models.RenderJob `json:"jobs"`
		Total   int                `json:"total"`
		Page    int                `json:"page"`
		PerPage int                `json:"per_page"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 1 || len(body.Jobs) != 1 {
		t.Errorf("total = %d, jobs = %d, want 1 each", body.Total, len(body.Jobs))
	}
	if body.Page != 1 || body.PerPage != 10 {
		t.Errorf("page = %d, per_page = %d", body.Page, body.PerPage)
	}
}

func TestServeFileEnforcesOwnership(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/v1/render/d1/sync", "u1")
	job := decodeJob(t, rec)

	if rec := f.do(t, http.MethodGet, "/api/v1/files/"+job.OutputPath, "u1"); rec.Code != http.StatusOK {
		t.Errorf("owner file read status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/api/v1/files/"+job.OutputPath, "u2"); rec.Code != http.StatusNotFound {
		t.Errorf("foreign file read status = %d, want 404", rec.Code)
	}
}

var _ dispatch.Dispatcher = (*fakeDispatcher)(nil)
