// Package models defines the persistent entities of the cvrender service.
package models

import (
	"fmt"
	"time"
)

// Tier is a user subscription tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Status is the lifecycle state of a render job.
// Transitions are one-directional: pending -> processing -> completed|failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether no further transition is permitted.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// OutputFormat is a render target format.
type OutputFormat string

const (
	FormatPDF      OutputFormat = "pdf"
	FormatPNG      OutputFormat = "png"
	FormatHTML     OutputFormat = "html"
	FormatMarkdown OutputFormat = "markdown"
)

// ParseOutputFormat validates a requested output format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatPDF, FormatPNG, FormatHTML, FormatMarkdown:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unsupported output format: %q", s)
}

// Ext returns the file extension for the format (markdown shortens to md).
func (f OutputFormat) Ext() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// User is an account with a monthly render quota.
type User struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	Tier             Tier       `json:"tier"`
	IsActive         bool       `json:"is_active"`
	RendersThisMonth int        `json:"renders_this_month"`
	RendersResetAt   *time.Time `json:"renders_reset_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// RenderLimit returns the monthly render limit for the user's tier.
func (u *User) RenderLimit() int {
	switch u.Tier {
	case TierPro:
		return 100
	case TierEnterprise:
		return 1000
	default:
		return 10
	}
}

// CanRender reports whether the user has quota left this month.
func (u *User) CanRender() bool {
	return u.RendersThisMonth < u.RenderLimit()
}

// Document is a stored CV description with optional rendering overrides.
type Document struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Name           string    `json:"name"`
	YAMLContent    string    `json:"yaml_content"`
	DesignOverride string    `json:"design_override,omitempty"`
	LocaleOverride string    `json:"locale_override,omitempty"`
	Theme          string    `json:"theme"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// RenderJob is one request to convert a Document into one output artifact.
type RenderJob struct {
	ID           string       `json:"id"`
	DocumentID   string       `json:"document_id"`
	UserID       string       `json:"user_id"`
	Status       Status       `json:"status"`
	OutputFormat OutputFormat `json:"output_format"`

	// Output fields, populated only when Status is completed.
	OutputPath    string `json:"output_path,omitempty"`
	OutputURL     string `json:"output_url,omitempty"`
	FileSizeBytes int64  `json:"file_size_bytes,omitempty"`

	// ErrorMessage is populated only when Status is failed.
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Duration returns how long the job ran, or false if it has not both
// started and finished.
func (j *RenderJob) Duration() (time.Duration, bool) {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0, false
	}
	return j.CompletedAt.Sub(*j.StartedAt), true
}
