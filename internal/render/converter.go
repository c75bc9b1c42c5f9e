// Package render owns the render-job state machine: admission, execution,
// and retrieval. The same orchestration logic runs inline in the API
// process and inside the worker.
package render

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"cvrender/internal/models"
	"cvrender/internal/pkg/errors"
)

// RenderInput is the document description handed to the converter.
type RenderInput struct {
	YAMLContent    string              `json:"yaml_content"`
	DesignOverride string              `json:"design_override,omitempty"`
	LocaleOverride string              `json:"locale_override,omitempty"`
	Format         models.OutputFormat `json:"format"`
}

// Converter turns a document description into output bytes. Failures carry
// a human-readable message under the RENDER_FAILED code.
type Converter interface {
	Render(ctx context.Context, in RenderInput) ([]byte, error)
}

// HTTPConverter calls the external rendering engine over HTTP.
type HTTPConverter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPConverter creates a converter client. The HTTP timeout should be
// comfortably above the queue's per-job timeout; the queue is the hard bound.
func NewHTTPConverter(baseURL string, timeout time.Duration) *HTTPConverter {
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	return &HTTPConverter{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPConverter) Render(ctx context.Context, in RenderInput) ([]byte, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeRenderFailed, "converter.render", "encode render request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/render", bytes.NewReader(body))
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeRenderFailed, "converter.render", "build render request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeRenderFailed, "converter.render", "converter unreachable")
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, errors.RenderFailed(decodeConverterError(res))
	}

	out, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeRenderFailed, "converter.render", "read converter response")
	}
	return out, nil
}

// decodeConverterError extracts the engine's failure message, falling back
// to the HTTP status when the body is not the expected envelope.
func decodeConverterError(res *http.Response) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		Detail string `json:"detail"`
	}

	raw, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err == nil && json.Unmarshal(raw, &envelope) == nil {
		if envelope.Error.Message != "" {
			return envelope.Error.Message
		}
		if envelope.Detail != "" {
			return envelope.Detail
		}
	}
	return "converter returned http " + res.Status
}
