package render

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
)

func TestHTTPConverterRender(t *testing.T) {
	var got RenderInput
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/render" {
			t.Errorf("path = %q, want /render", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF"))
	}))
	defer srv.Close()

	c := NewHTTPConverter(srv.URL, time.Minute)
	out, err := c.Render(context.Background(), RenderInput{
		YAMLContent: "cv: {}",
		Format:      models.FormatPDF,
	})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if string(out) != "%PDF" {
		t.Errorf("output = %q", out)
	}
	if got.YAMLContent != "cv: {}" || got.Format != models.FormatPDF {
		t.Errorf("request = %+v", got)
	}
}

func TestHTTPConverterErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid typst markup on line 3"}}`))
	}))
	defer srv.Close()

	c := NewHTTPConverter(srv.URL, time.Minute)
	_, err := c.Render(context.Background(), RenderInput{Format: models.FormatPDF})
	if !errors.IsCode(err, errors.CodeRenderFailed) {
		t.Fatalf("Render() error = %v, want RENDER_FAILED", err)
	}

	var svcErr *errors.Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("error is not a service error: %v", err)
	}
	if svcErr.Message != "invalid typst markup on line 3" {
		t.Errorf("message = %q, want the engine's message", svcErr.Message)
	}
}

func TestHTTPConverterUnreachable(t *testing.T) {
	// A closed server gives a connection error.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPConverter(srv.URL, time.Second)
	_, err := c.Render(context.Background(), RenderInput{Format: models.FormatPDF})
	if !errors.IsCode(err, errors.CodeRenderFailed) {
		t.Fatalf("Render() error = %v, want RENDER_FAILED", err)
	}
}
