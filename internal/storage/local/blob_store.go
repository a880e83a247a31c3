// Package local implements a filesystem artifact store whose download links
// are HMAC-signed URLs served by the API process.
package local

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// RoutePrefix is where the API mounts Handler.
const RoutePrefix = "/v1/artifacts/"

// Config captures the parameters for the local filesystem artifact store.
type Config struct {
	// BaseDir is the root directory where artifacts are stored.
	BaseDir string
	// PublicBaseURL is the externally reachable origin of the API.
	PublicBaseURL string
	// SigningKey authenticates download links.
	SigningKey []byte
}

// BlobStore writes artifacts to the local filesystem.
type BlobStore struct {
	baseDir string
	baseURL string
	key     []byte
	now     func() time.Time
}

// New creates a local filesystem-backed artifact store.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	return &BlobStore{
		baseDir: filepath.Clean(cfg.BaseDir),
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		key:     cfg.SigningKey,
		now:     time.Now,
	}, nil
}

func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	full := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

// Upload streams body into a temporary file and renames it into place, so a
// failed upload never leaves a partial artifact at key.
func (s *BlobStore) Upload(_ context.Context, key, _ string, body io.Reader) (int64, error) {
	full, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return 0, fmt.Errorf("create parent directories: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("rename into %s: %w", key, err)
	}
	return n, nil
}

// PresignGetURL returns a link to Handler carrying an expiry and an HMAC over
// key, expiry and download name.
func (s *BlobStore) PresignGetURL(_ context.Context, key string, ttl time.Duration, downloadName string) (string, error) {
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("ttl must be > 0")
	}
	if _, err := os.Stat(full); err != nil {
		return "", fmt.Errorf("stat %s: %w", key, err)
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	if downloadName != "" {
		q.Set("filename", downloadName)
	}
	q.Set("signature", s.sign(key, expires, downloadName))
	return s.baseURL + RoutePrefix + escapeKey(key) + "?" + q.Encode(), nil
}

func (s *BlobStore) sign(key, expires, filename string) string {
	mac := hmac.New(sha256.New, s.key)
	_, _ = io.WriteString(mac, key+"\n"+expires+"\n"+filename)
	return hex.EncodeToString(mac.Sum(nil))
}

// verify checks the signature and expiry carried by a download link.
func (s *BlobStore) verify(key string, q url.Values) bool {
	expires := q.Get("expires")
	unix, err := strconv.ParseInt(expires, 10, 64)
	if err != nil || s.now().Unix() > unix {
		return false
	}
	want, err := hex.DecodeString(s.sign(key, expires, q.Get("filename")))
	if err != nil {
		return false
	}
	got, err := hex.DecodeString(q.Get("signature"))
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
