package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/download"
	"github.com/JakeFAU/class-reports/internal/intake"
	memqueue "github.com/JakeFAU/class-reports/internal/queue/memory"
	"github.com/JakeFAU/class-reports/internal/ratelimit"
	"github.com/JakeFAU/class-reports/internal/report"
	"github.com/JakeFAU/class-reports/internal/storage/memory"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type counterIDs struct{ n int }

func (c *counterIDs) NewID() (string, error) {
	c.n++
	return "req-" + strings.Repeat("x", c.n), nil
}

type env struct {
	store *memory.RequestStore
	blobs *memory.BlobStore
	queue *memqueue.Queue
	srv   *httptest.Server
}

func newEnv(t *testing.T, opts Options) *env {
	t.Helper()
	store := memory.NewRequestStore()
	store.SeedParticipations("T1",
		report.Participation{StudentID: "s1", StudentName: "Ana"},
		report.Participation{StudentID: "s2", StudentName: "Bruno"},
		report.Participation{StudentID: "s3", StudentName: "Carla"},
	)
	blobs := memory.NewBlobStore()
	q := memqueue.NewQueue(16, time.Millisecond)
	clock := &fakeClock{now: time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)}
	in := intake.New(store, q, &counterIDs{}, clock, zap.NewNop())
	issuer := download.NewIssuer(store, blobs, clock, 0, zap.NewNop())
	s := NewServer(in, issuer, store, opts, zap.NewNop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &env{store: store, blobs: blobs, queue: q, srv: srv}
}

func (e *env) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	}
	return resp, out
}

func TestCreateReportLifecycle(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	resp, body := e.do(t, http.MethodPost, "/v1/reports", `{"classId":"T1","reportType":"pdf"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["requestId"].(string)
	require.NotEmpty(t, id)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	require.Equal(t, 1, e.queue.Len())

	resp, body = e.do(t, http.MethodGet, "/v1/reports/"+id+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Pending", body["status"])

	resp, body = e.do(t, http.MethodGet, "/v1/reports/"+id+"/download", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "Pending")

	ctx := context.Background()
	_, err := e.blobs.Upload(ctx, "reports/T1/"+id+".pdf", "application/pdf", strings.NewReader("%PDF-1.4"))
	require.NoError(t, err)
	require.NoError(t, e.store.UpdateStatus(ctx, id, report.StatusProcessing, ""))
	require.NoError(t, e.store.RecordArtifact(ctx, report.Artifact{
		RequestID: id, ClassID: "T1", Type: report.TypePDF,
		FileName: "relatorio-T1-20250304-100000.pdf", StorageKey: "reports/T1/" + id + ".pdf",
		ContentType: "application/pdf",
	}))
	require.NoError(t, e.store.UpdateStatus(ctx, id, report.StatusCompleted, ""))

	resp, body = e.do(t, http.MethodGet, "/v1/reports/"+id+"/download", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body["downloadUrl"], "reports/T1/"+id+".pdf")
	require.EqualValues(t, 300, body["expiresInSeconds"])

	resp, body = e.do(t, http.MethodGet, "/v1/reports", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reports, ok := body["reports"].([]any)
	require.True(t, ok)
	require.Len(t, reports, 1)
}

func TestCreateReportRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"classId":`, http.StatusBadRequest},
		{"missing field", `{"classId":"T1"}`, http.StatusUnprocessableEntity},
		{"extra field", `{"classId":"T1","reportType":"pdf","x":1}`, http.StatusUnprocessableEntity},
		{"wrong type", `{"classId":7,"reportType":"pdf"}`, http.StatusUnprocessableEntity},
		{"blank class", `{"classId":"  ","reportType":"pdf"}`, http.StatusBadRequest},
		{"unsupported type", `{"classId":"T1","reportType":"csv"}`, http.StatusBadRequest},
		{"unknown class", `{"classId":"UNKNOWN","reportType":"pdf"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, Options{})
			resp, body := e.do(t, http.MethodPost, "/v1/reports", tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
			require.NotEmpty(t, body["error"])
			if tc.status == http.StatusUnprocessableEntity {
				require.NotEmpty(t, body["details"])
			}
			reqs, err := e.store.ListRequests(context.Background(), 10, 0)
			require.NoError(t, err)
			require.Empty(t, reqs)
		})
	}
}

func TestCreateReportRateLimitedPerClass(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{Limiter: ratelimit.New(ratelimit.Config{RPS: 0.001, Burst: 2})})
	for range 2 {
		resp, _ := e.do(t, http.MethodPost, "/v1/reports", `{"classId":"T1","reportType":"pdf"}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	resp, body := e.do(t, http.MethodPost, "/v1/reports", `{"classId":"T1","reportType":"xlsx"}`)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "1", resp.Header.Get("Retry-After"))
	require.NotEmpty(t, body["error"])
	require.Equal(t, 2, e.queue.Len())
}

func TestStatusNotFound(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	resp, body := e.do(t, http.MethodGet, "/v1/reports/missing/status", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotEmpty(t, body["error"])

	resp, _ = e.do(t, http.MethodGet, "/v1/reports/missing/download", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStatusIncludesFailureReason(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	_, body := e.do(t, http.MethodPost, "/v1/reports", `{"classId":"T1","reportType":"Excel"}`)
	id := body["requestId"].(string)
	require.NoError(t, e.store.UpdateStatus(context.Background(), id, report.StatusError, "class has no participation data"))

	resp, body := e.do(t, http.MethodGet, "/v1/reports/"+id+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Error", body["status"])
	require.Equal(t, "class has no participation data", body["error"])

	resp, body = e.do(t, http.MethodGet, "/v1/reports/"+id+"/download", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, body["error"], "Error")
}

func TestListRejectsBadPaging(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	resp, _ := e.do(t, http.MethodGet, "/v1/reports?limit=abc", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = e.do(t, http.MethodGet, "/v1/reports?offset=-1", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

type brokenIntake struct{}

func (brokenIntake) Create(context.Context, string, string) (string, error) {
	return "", report.Infrastructure(errors.New("dial tcp 10.0.0.1:5432: refused"), "persist request")
}

func (brokenIntake) GetStatus(context.Context, string) (intake.StatusView, error) {
	return intake.StatusView{}, errors.New("unclassified")
}

func (brokenIntake) List(context.Context, int, int) ([]report.Request, error) {
	return nil, errors.New("unclassified")
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestInfrastructureErrorsHideDetail(t *testing.T) {
	t.Parallel()

	s := NewServer(brokenIntake{}, nil, failingPinger{}, Options{}, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	e := &env{srv: srv}

	resp, body := e.do(t, http.MethodPost, "/v1/reports", `{"classId":"T1","reportType":"pdf"}`)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "internal server error", body["error"])

	resp, body = e.do(t, http.MethodGet, "/v1/reports/x/status", "")
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "internal server error", body["error"])

	resp, _ = e.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	resp, body := e.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])

	resp, body = e.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ready", body["status"])

	resp, _ = e.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestArtifactsRouteMountedOnlyWhenConfigured(t *testing.T) {
	t.Parallel()

	e := newEnv(t, Options{})
	resp, _ := e.do(t, http.MethodGet, "/v1/artifacts/reports/T1/a.pdf", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var gotPath string
	e = newEnv(t, Options{Artifacts: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusForbidden)
	})})
	resp, _ = e.do(t, http.MethodGet, "/v1/artifacts/reports/T1/a.pdf", "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "/v1/artifacts/reports/T1/a.pdf", gotPath)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
