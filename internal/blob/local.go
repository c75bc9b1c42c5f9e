package blob

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// localURLPrefix is the API route that serves local-backend blobs.
// Absolute filesystem paths are never handed to clients.
const localURLPrefix = "/api/v1/files/"

// Local stores objects under a root directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal creates a local store rooted at root, creating it on demand.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Backend() string { return "local" }

// fullPath resolves a storage path inside the root, rejecting traversal.
func (l *Local) fullPath(path string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(path))
	if cleaned == "." || strings.HasPrefix(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid storage path: %q", path)
	}
	return filepath.Join(l.root, cleaned), nil
}

func (l *Local) Save(ctx context.Context, content []byte, path string, contentType string) (string, error) {
	dst, err := l.fullPath(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(dst, content, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (l *Local) Get(ctx context.Context, path string) ([]byte, bool, error) {
	src, err := l.fullPath(path)
	if err != nil {
		return nil, false, nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

func (l *Local) Delete(ctx context.Context, path string) (bool, error) {
	dst, err := l.fullPath(path)
	if err != nil {
		return false, nil
	}
	if err := os.Remove(dst); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	dst, err := l.fullPath(path)
	if err != nil {
		return false, nil
	}
	if _, err := os.Stat(dst); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// URL returns the internal API path that serves the object.
func (l *Local) URL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	return localURLPrefix + strings.TrimPrefix(path, "/"), nil
}

func (l *Local) Size(ctx context.Context, path string) (int64, bool, error) {
	dst, err := l.fullPath(path)
	if err != nil {
		return 0, false, nil
	}
	st, err := os.Stat(dst)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return st.Size(), true, nil
}

// UserStorageUsage sums the bytes stored under a user's render prefix.
func (l *Local) UserStorageUsage(ctx context.Context, userID string) (int64, error) {
	base, err := l.fullPath(UserPrefix(userID))
	if err != nil {
		return 0, err
	}

	var total int64
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

// CleanupUserFiles deletes every artifact belonging to a user and returns
// the number of files removed.
func (l *Local) CleanupUserFiles(ctx context.Context, userID string) (int, error) {
	base, err := l.fullPath(UserPrefix(userID))
	if err != nil {
		return 0, err
	}

	count := 0
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}

	if err := os.RemoveAll(base); err != nil {
		return 0, err
	}
	return count, nil
}

// CleanupOldFiles deletes files older than the cutoff and returns the
// number removed.
func (l *Local) CleanupOldFiles(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	deleted := 0

	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(p); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	return deleted, nil
}
