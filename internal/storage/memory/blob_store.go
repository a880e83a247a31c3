package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"
)

// BlobStore stores artifacts in-memory and returns pseudo URLs.
type BlobStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	data  map[string][]byte
	types map[string]string
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		now:   func() time.Time { return time.Now().UTC() },
		data:  make(map[string][]byte),
		types: make(map[string]string),
	}
}

// Upload drains body into memory under key.
func (s *BlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, fmt.Errorf("key is required")
	}
	var buf bytes.Buffer
	n, err := io.Copy(&buf, body)
	if err != nil {
		return n, fmt.Errorf("read upload body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return n, fmt.Errorf("upload canceled: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = buf.Bytes()
	s.types[key] = contentType
	return n, nil
}

// PresignGetURL returns a memory:// URL carrying the expiry and download name.
func (s *BlobStore) PresignGetURL(_ context.Context, key string, ttl time.Duration, downloadName string) (string, error) {
	s.mu.RLock()
	_, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("object %q not found", key)
	}
	q := url.Values{}
	q.Set("expires", fmt.Sprintf("%d", s.now().Add(ttl).Unix()))
	if downloadName != "" {
		q.Set("filename", downloadName)
	}
	return fmt.Sprintf("memory://%s?%s", key, q.Encode()), nil
}

// Object returns a copy of the stored bytes and content type for key.
func (s *BlobStore) Object(key string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), data...), s.types[key], true
}
