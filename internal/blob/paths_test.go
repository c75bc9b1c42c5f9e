package blob

import (
	"testing"

	"cvrender/internal/models"
)

func TestOutputPath(t *testing.T) {
	tests := []struct {
		format models.OutputFormat
		want   string
	}{
		{models.FormatPDF, "renders/U/D/J/cv.pdf"},
		{models.FormatPNG, "renders/U/D/J/cv.png"},
		{models.FormatHTML, "renders/U/D/J/cv.html"},
		{models.FormatMarkdown, "renders/U/D/J/cv.md"},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := OutputPath("U", "D", "J", tt.format); got != tt.want {
				t.Errorf("OutputPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOutputPathIsDeterministic(t *testing.T) {
	a := OutputPath("user-1", "doc-1", "job-1", models.FormatPDF)
	b := OutputPath("user-1", "doc-1", "job-1", models.FormatPDF)
	if a != b {
		t.Errorf("expected identical paths, got %q and %q", a, b)
	}
}

func TestOutputFilename(t *testing.T) {
	if got := OutputFilename("My Resume", models.FormatMarkdown); got != "My Resume.md" {
		t.Errorf("OutputFilename = %q", got)
	}
	if got := OutputFilename("", models.FormatPDF); got != "cv.pdf" {
		t.Errorf("OutputFilename with empty name = %q, want cv.pdf", got)
	}
}

func TestContentTypeFor(t *testing.T) {
	tests := []struct {
		format models.OutputFormat
		want   string
	}{
		{models.FormatPDF, "application/pdf"},
		{models.FormatPNG, "image/png"},
		{models.FormatHTML, "text/html"},
		{models.FormatMarkdown, "text/markdown"},
		{models.OutputFormat("weird"), "application/octet-stream"},
	}

	for _, tt := range tests {
		if got := ContentTypeFor(tt.format); got != tt.want {
			t.Errorf("ContentTypeFor(%s) = %q, want %q", tt.format, got, tt.want)
		}
	}
}
