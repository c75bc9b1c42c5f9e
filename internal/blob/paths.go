package blob

import (
	"fmt"

	"cvrender/internal/models"
)

// renderPrefix is the top-level key space for render artifacts.
const renderPrefix = "renders"

// OutputPath computes the storage path for a render artifact. The path is
// derived purely from its inputs so the URL can be re-derived without
// re-reading the job row.
func OutputPath(userID, documentID, jobID string, format models.OutputFormat) string {
	return fmt.Sprintf("%s/%s/%s/%s/cv.%s", renderPrefix, userID, documentID, jobID, format.Ext())
}

// OutputFilename is the download name for a rendered artifact, based on
// the document's display name.
func OutputFilename(documentName string, format models.OutputFormat) string {
	name := documentName
	if name == "" {
		name = "cv"
	}
	return name + "." + format.Ext()
}

// UserPrefix is the key space holding all artifacts of one user.
func UserPrefix(userID string) string {
	return fmt.Sprintf("%s/%s", renderPrefix, userID)
}

// ContentTypeFor maps an output format to its MIME type.
func ContentTypeFor(format models.OutputFormat) string {
	switch format {
	case models.FormatPDF:
		return "application/pdf"
	case models.FormatPNG:
		return "image/png"
	case models.FormatHTML:
		return "text/html"
	case models.FormatMarkdown:
		return "text/markdown"
	default:
		return "application/octet-stream"
	}
}
