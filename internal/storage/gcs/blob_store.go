// Package gcs provides an artifact store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to upload and sign GCS objects.
// When SignerEmail and PrivateKey are empty, the client signs with the
// credentials it was created with.
type Config struct {
	Bucket      string
	SignerEmail string
	PrivateKey  []byte
}

// BlobStore streams artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	signer string
	key    []byte
	now    func() time.Time
}

// New creates a GCS-backed artifact store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &BlobStore{
		client: client,
		bucket: cfg.Bucket,
		signer: cfg.SignerEmail,
		key:    cfg.PrivateKey,
		now:    time.Now,
	}, nil
}

// Upload streams body into the object at key. The object only becomes visible
// when the writer closes successfully.
func (s *BlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (int64, error) {
	if strings.TrimSpace(key) == "" {
		return 0, fmt.Errorf("key is required")
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writer := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	n, err := io.Copy(writer, body)
	if err != nil {
		// Cancelling before Close aborts the upload.
		cancel()
		_ = writer.Close()
		return n, fmt.Errorf("copy object %s: %w", key, err)
	}
	if err := writer.Close(); err != nil {
		return n, fmt.Errorf("close writer for %s: %w", key, err)
	}
	return n, nil
}

// PresignGetURL returns a V4 signed GET URL valid for ttl. downloadName, when
// set, is returned to browsers as the attachment file name.
func (s *BlobStore) PresignGetURL(_ context.Context, key string, ttl time.Duration, downloadName string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be > 0")
	}
	opts := &storage.SignedURLOptions{
		Scheme:         storage.SigningSchemeV4,
		Method:         "GET",
		Expires:        s.now().Add(ttl),
		GoogleAccessID: s.signer,
		PrivateKey:     s.key,
	}
	if downloadName != "" {
		opts.QueryParameters = url.Values{
			"response-content-disposition": {mime.FormatMediaType("attachment", map[string]string{"filename": downloadName})},
		}
	}
	signed, err := s.client.Bucket(s.bucket).SignedURL(key, opts)
	if err != nil {
		return "", fmt.Errorf("sign url for %s: %w", key, err)
	}
	return signed, nil
}
