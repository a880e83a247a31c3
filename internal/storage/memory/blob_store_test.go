package memory

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestBlobStoreUploadAndPresign(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	store.now = func() time.Time { return time.Unix(1000, 0) }

	n, err := store.Upload(context.Background(), "reports/T1/r1.pdf", "application/pdf", strings.NewReader("%PDF-1.3"))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if n != 8 {
		t.Fatalf("expected 8 bytes written, got %d", n)
	}
	data, contentType, ok := store.Object("reports/T1/r1.pdf")
	if !ok || string(data) != "%PDF-1.3" || contentType != "application/pdf" {
		t.Fatalf("unexpected stored object %q %q %v", data, contentType, ok)
	}

	url, err := store.PresignGetURL(context.Background(), "reports/T1/r1.pdf", 300*time.Second, "report.pdf")
	if err != nil {
		t.Fatalf("PresignGetURL() error = %v", err)
	}
	if !strings.HasPrefix(url, "memory://reports/T1/r1.pdf?") {
		t.Fatalf("unexpected url %s", url)
	}
	if !strings.Contains(url, "expires=1300") || !strings.Contains(url, "filename=report.pdf") {
		t.Fatalf("expected expiry and filename in url, got %s", url)
	}
}

func TestBlobStorePresignMissingObject(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	if _, err := store.PresignGetURL(context.Background(), "missing", time.Minute, ""); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := store.Upload(context.Background(), " ", "", strings.NewReader("x")); err == nil {
		t.Fatal("expected error for empty key")
	}
}
