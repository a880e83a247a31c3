package local

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *BlobStore {
	t.Helper()
	store, err := New(Config{
		BaseDir:       t.TempDir(),
		PublicBaseURL: "http://reports.local/",
		SigningKey:    []byte("test-signing-key"),
	})
	require.NoError(t, err)
	return store
}

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store := newTestStore(t)
		assert.NotNil(t, store)
	})
	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := New(Config{SigningKey: []byte("k")})
		assert.Error(t, err)
	})
	t.Run("MissingSigningKey", func(t *testing.T) {
		_, err := New(Config{BaseDir: t.TempDir()})
		assert.Error(t, err)
	})
	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := New(Config{BaseDir: file, SigningKey: []byte("k")})
		assert.Error(t, err)
	})
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "reports")
		_, err := New(Config{BaseDir: dir, SigningKey: []byte("k")})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})
}

func TestUploadWritesFile(t *testing.T) {
	store := newTestStore(t)

	n, err := store.Upload(context.Background(), "reports/T1/req-1.pdf", "application/pdf", strings.NewReader("%PDF-1.4\n"))
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)

	data, err := os.ReadFile(filepath.Join(store.baseDir, "reports", "T1", "req-1.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4\n", string(data))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("renderer failed") }

func TestUploadFailureLeavesNoArtifact(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Upload(context.Background(), "reports/T1/req-1.pdf", "", io.MultiReader(strings.NewReader("partial"), failingReader{}))
	require.Error(t, err)
	assert.NoFileExists(t, filepath.Join(store.baseDir, "reports", "T1", "req-1.pdf"))

	entries, err := os.ReadDir(filepath.Join(store.baseDir, "reports", "T1"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUploadRejectsTraversal(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Upload(context.Background(), "../escape.pdf", "", strings.NewReader("x"))
	assert.ErrorContains(t, err, "path traversal")
}

func TestSignedLinkRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Unix(1700000000, 0)
	store.now = func() time.Time { return now }

	_, err := store.Upload(context.Background(), "reports/T1/req-1.pdf", "application/pdf", strings.NewReader("%PDF-1.4\n%%EOF\n"))
	require.NoError(t, err)

	link, err := store.PresignGetURL(context.Background(), "reports/T1/req-1.pdf", 300*time.Second, "relatorio-T1.pdf")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(link, "http://reports.local/v1/artifacts/reports/T1/req-1.pdf?"))

	parsed, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "1700000300", parsed.Query().Get("expires"))

	rec := httptest.NewRecorder()
	store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, parsed.RequestURI(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "relatorio-T1.pdf")
	assert.Equal(t, "%PDF-1.4\n%%EOF\n", rec.Body.String())

	t.Run("expired", func(t *testing.T) {
		store.now = func() time.Time { return now.Add(301 * time.Second) }
		defer func() { store.now = func() time.Time { return now } }()
		rec := httptest.NewRecorder()
		store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, parsed.RequestURI(), nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("tampered", func(t *testing.T) {
		q := parsed.Query()
		q.Set("filename", "other.pdf")
		rec := httptest.NewRecorder()
		store.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, parsed.Path+"?"+q.Encode(), nil))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestPresignMissingObject(t *testing.T) {
	store := newTestStore(t)

	_, err := store.PresignGetURL(context.Background(), "reports/T1/missing.pdf", time.Minute, "")
	assert.Error(t, err)
}
