package handlers

import (
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"

	"cvrender/internal/pkg/errors"
)

// contentTypeByExt resolves the MIME type of a stored artifact from its
// file extension.
func contentTypeByExt(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".html":
		return "text/html"
	case ".md":
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}

// ServeFile streams a stored artifact by its storage path. This is the
// endpoint behind the URLs the local backend hands out; the S3 backend
// gives out presigned URLs instead and never routes through here.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) error {
	uid, err := userID(r)
	if err != nil {
		return err
	}

	p := chi.URLParam(r, "*")
	if p == "" || strings.Contains(p, "..") {
		return errors.Validation("invalid file path")
	}

	// Users only ever see their own key space.
	if !strings.HasPrefix(p, "renders/"+uid+"/") {
		return errors.NotFound("file", p)
	}

	data, ok, err := h.blobs.Get(r.Context(), p)
	if err != nil {
		return errors.Wrap(err, "httpapi.files", "read stored file")
	}
	if !ok {
		return errors.NotFound("file", p)
	}

	w.Header().Set("Content-Type", contentTypeByExt(p))
	_, _ = w.Write(data)
	return nil
}
