package local

import (
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Handler serves artifacts behind signed links. It expects to be mounted at
// RoutePrefix.
func (s *BlobStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, RoutePrefix)
		if !s.verify(key, r.URL.Query()) {
			http.Error(w, "invalid or expired link", http.StatusForbidden)
			return
		}
		full, err := s.resolve(key)
		if err != nil {
			http.Error(w, "invalid key", http.StatusBadRequest)
			return
		}
		f, err := os.Open(full) // #nosec G304 -- path confined to baseDir by resolve.
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		mt, err := mimetype.DetectReader(f)
		if err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if _, err := f.Seek(0, 0); err != nil {
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", mt.String())
		if name := r.URL.Query().Get("filename"); name != "" {
			w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		}
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}
