package blob

import (
	"context"
	"bytes"
	"strings"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) *Local {
	t.Helper()
	l, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	return l
}

func TestLocalSaveAndGet(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	content := []byte("%PDF-1.7 fake")
	path, err := l.Save(ctx, content, "renders/u1/d1/j1/cv.pdf", "application/pdf")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if path != "renders/u1/d1/j1/cv.pdf" {
		t.Errorf("Save returned path %q", path)
	}

	data, ok, err := l.Get(ctx, path)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected object to exist")
	}
	if !bytes.Equal(data, content) {
		t.Errorf("Get returned %q, want %q", data, content)
	}
}

func TestLocalMissingObjectIsAbsentNotError(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	if _, ok, err := l.Get(ctx, "renders/u/d/j/cv.pdf"); err != nil || ok {
		t.Errorf("Get missing: ok=%v err=%v, want absent with nil error", ok, err)
	}
	if ok, err := l.Exists(ctx, "renders/u/d/j/cv.pdf"); err != nil || ok {
		t.Errorf("Exists missing: ok=%v err=%v, want false with nil error", ok, err)
	}
	if deleted, err := l.Delete(ctx, "renders/u/d/j/cv.pdf"); err != nil || deleted {
		t.Errorf("Delete missing: deleted=%v err=%v, want false with nil error", deleted, err)
	}
	if _, ok, err := l.Size(ctx, "renders/u/d/j/cv.pdf"); err != nil || ok {
		t.Errorf("Size missing: ok=%v err=%v, want absent with nil error", ok, err)
	}
}

func TestLocalDelete(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	if _, err := l.Save(ctx, []byte("x"), "renders/u/d/j/cv.html", "text/html"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	deleted, err := l.Delete(ctx, "renders/u/d/j/cv.html")
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted {
		t.Error("expected Delete to report true")
	}

	if ok, _ := l.Exists(ctx, "renders/u/d/j/cv.html"); ok {
		t.Error("expected object to be gone after delete")
	}
}

func TestLocalSize(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	content := []byte("0123456789")
	if _, err := l.Save(ctx, content, "renders/u/d/j/cv.md", "text/markdown"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	size, ok, err := l.Size(ctx, "renders/u/d/j/cv.md")
	if err != nil || !ok {
		t.Fatalf("Size: ok=%v err=%v", ok, err)
	}
	if size != int64(len(content)) {
		t.Errorf("Size = %d, want %d", size, len(content))
	}
}

func TestLocalURLNeverLeaksFilesystemPath(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	url, err := l.URL(ctx, "renders/u/d/j/cv.pdf", 0)
	if err != nil {
		t.Fatalf("URL: %v", err)
	}
	if url != "/api/v1/files/renders/u/d/j/cv.pdf" {
		t.Errorf("URL = %q", url)
	}
	if strings.Contains(url, l.root) {
		t.Errorf("URL leaks the storage root: %q", url)
	}
}

func TestLocalRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	if _, err := l.Save(ctx, []byte("x"), "../outside.txt", ""); err == nil {
		t.Error("expected Save to reject path traversal")
	}
	// Reads of invalid paths report absence, matching the missing-object rule.
	if _, ok, err := l.Get(ctx, "../../etc/passwd"); ok || err != nil {
		t.Errorf("Get traversal: ok=%v err=%v, want absent with nil error", ok, err)
	}
}

func TestLocalUserStorageUsage(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	if _, err := l.Save(ctx, []byte("12345"), "renders/u1/d1/j1/cv.pdf", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Save(ctx, []byte("123"), "renders/u1/d1/j2/cv.png", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Save(ctx, []byte("ignored"), "renders/u2/d9/j9/cv.pdf", ""); err != nil {
		t.Fatal(err)
	}

	total, err := l.UserStorageUsage(ctx, "u1")
	if err != nil {
		t.Fatalf("UserStorageUsage: %v", err)
	}
	if total != 8 {
		t.Errorf("UserStorageUsage = %d, want 8", total)
	}

	// Unknown users have zero usage.
	total, err = l.UserStorageUsage(ctx, "nobody")
	if err != nil {
		t.Fatalf("UserStorageUsage: %v", err)
	}
	if total != 0 {
		t.Errorf("UserStorageUsage = %d, want 0", total)
	}
}

func TestLocalCleanupUserFiles(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	for _, p := range []string{"renders/u1/d1/j1/cv.pdf", "renders/u1/d2/j2/cv.png"} {
		if _, err := l.Save(ctx, []byte("x"), p, ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := l.Save(ctx, []byte("keep"), "renders/u2/d1/j1/cv.pdf", ""); err != nil {
		t.Fatal(err)
	}

	count, err := l.CleanupUserFiles(ctx, "u1")
	if err != nil {
		t.Fatalf("CleanupUserFiles: %v", err)
	}
	if count != 2 {
		t.Errorf("CleanupUserFiles count = %d, want 2", count)
	}

	if ok, _ := l.Exists(ctx, "renders/u1/d1/j1/cv.pdf"); ok {
		t.Error("expected u1 files to be removed")
	}
	if ok, _ := l.Exists(ctx, "renders/u2/d1/j1/cv.pdf"); !ok {
		t.Error("expected u2 files to survive")
	}
}

func TestLocalCleanupOldFiles(t *testing.T) {
	ctx := context.Background()
	l := newTestLocal(t)

	if _, err := l.Save(ctx, []byte("fresh"), "renders/u/d/j/cv.pdf", ""); err != nil {
		t.Fatal(err)
	}

	// Nothing is older than an hour yet.
	deleted, err := l.CleanupOldFiles(ctx, time.Hour)
	if err != nil {
		t.Fatalf("CleanupOldFiles: %v", err)
	}
	if deleted != 0 {
		t.Errorf("CleanupOldFiles = %d, want 0", deleted)
	}

	// Everything is older than a zero-duration cutoff.
	deleted, err = l.CleanupOldFiles(ctx, 0)
	if err != nil {
		t.Fatalf("CleanupOldFiles: %v", err)
	}
	if deleted != 1 {
		t.Errorf("CleanupOldFiles = %d, want 1", deleted)
	}
}
