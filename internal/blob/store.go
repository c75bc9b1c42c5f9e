// Package blob provides byte-blob persistence over local disk or
// S3-compatible object storage.
package blob

import (
	"context"
	"time"
)

// DefaultURLExpiry is used when URL is called with a non-positive expiry.
const DefaultURLExpiry = 3600 * time.Second

// Store is the storage contract shared by the API and worker processes.
//
// A missing object is data, not a fault: Get, Delete, Exists and Size
// report absence through their return values and never through an error.
// Save failing is a hard error propagated to the caller.
type Store interface {
	// Backend names the concrete implementation (local, s3).
	Backend() string

	// Save writes content under path and returns the stored path.
	Save(ctx context.Context, content []byte, path string, contentType string) (string, error)

	// Get returns the content at path, or ok=false if it does not exist.
	Get(ctx context.Context, path string) (data []byte, ok bool, err error)

	// Delete removes the object at path. Returns false if it did not exist.
	Delete(ctx context.Context, path string) (bool, error)

	// Exists reports whether an object is stored at path.
	Exists(ctx context.Context, path string) (bool, error)

	// URL returns an externally resolvable URL for the object. Remote
	// backends return a time-limited signed URL; expiry <= 0 means
	// DefaultURLExpiry.
	URL(ctx context.Context, path string, expiry time.Duration) (string, error)

	// Size returns the object size in bytes, or ok=false if it does not exist.
	Size(ctx context.Context, path string) (size int64, ok bool, err error)
}
