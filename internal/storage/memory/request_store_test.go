package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/class-reports/internal/report"
)

func newPending(id string, created time.Time) report.Request {
	return report.Request{
		ID:        id,
		ClassID:   "T1",
		Type:      report.TypePDF,
		Status:    report.StatusPending,
		CreatedAt: created,
	}
}

func TestRequestStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	require.NoError(t, store.CreateRequest(ctx, newPending("r1", time.Unix(10, 0))))

	status, err := store.GetStatus(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, report.StatusPending, status)

	require.NoError(t, store.UpdateStatus(ctx, "r1", report.StatusProcessing, ""))
	req, err := store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	require.NotNil(t, req.ProcessingStartedAt)

	require.NoError(t, store.UpdateStatus(ctx, "r1", report.StatusCompleted, ""))
	err = store.UpdateStatus(ctx, "r1", report.StatusProcessing, "")
	require.True(t, errors.Is(err, report.ErrStaleTransition))

	status, err = store.GetStatus(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, status)
}

func TestReclaimRefreshesProcessingStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	now := time.Unix(1000, 0).UTC()
	store.now = func() time.Time { return now }
	require.NoError(t, store.CreateRequest(ctx, newPending("r1", now)))
	require.NoError(t, store.UpdateStatus(ctx, "r1", report.StatusProcessing, ""))

	now = now.Add(20 * time.Minute)
	require.NoError(t, store.UpdateStatus(ctx, "r1", report.StatusProcessing, ""))

	req, err := store.GetRequest(ctx, "r1")
	require.NoError(t, err)
	require.True(t, now.Equal(*req.ProcessingStartedAt))

	reaped, err := store.ReapStale(ctx, now.Add(-10*time.Minute), "stale")
	require.NoError(t, err)
	require.Empty(t, reaped)
}

func TestCompleteRecordsArtifactWithStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	require.NoError(t, store.CreateRequest(ctx, newPending("r1", time.Unix(10, 0))))
	require.NoError(t, store.UpdateStatus(ctx, "r1", report.StatusProcessing, ""))

	artifact := report.Artifact{RequestID: "r1", ClassID: "T1", Type: report.TypePDF, StorageKey: "reports/T1/r1.pdf"}
	require.NoError(t, store.Complete(ctx, artifact))

	status, err := store.GetStatus(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, report.StatusCompleted, status)
	got, err := store.GetArtifact(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "reports/T1/r1.pdf", got.StorageKey)

	require.ErrorIs(t, store.Complete(ctx, artifact), report.ErrStaleTransition)
	require.Equal(t, 1, store.ArtifactCount())
	require.True(t, report.IsNotFound(store.Complete(ctx, report.Artifact{RequestID: "missing"})))
}

func TestCompleteAfterReapKeepsNoArtifact(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	require.NoError(t, store.CreateRequest(ctx, newPending("r1", time.Unix(10, 0))))
	require.NoError(t, store.UpdateStatus(ctx, "r1", report.StatusProcessing, ""))
	reaped, err := store.ReapStale(ctx, time.Now().Add(24*time.Hour), "stale")
	require.NoError(t, err)
	require.Equal(t, []string{"r1"}, reaped)

	err = store.Complete(ctx, report.Artifact{RequestID: "r1", ClassID: "T1", Type: report.TypePDF})
	require.ErrorIs(t, err, report.ErrStaleTransition)
	require.Zero(t, store.ArtifactCount())
	_, err = store.GetArtifact(ctx, "r1")
	require.True(t, report.IsNotFound(err))
}

func TestRequestStoreNotFound(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	_, err := store.GetStatus(ctx, "missing")
	require.True(t, report.IsNotFound(err))
	require.True(t, report.IsNotFound(store.UpdateStatus(ctx, "missing", report.StatusProcessing, "")))
	_, err = store.GetArtifact(ctx, "missing")
	require.True(t, report.IsNotFound(err))
}

func TestRequestStoreRecordArtifactIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	require.NoError(t, store.CreateRequest(ctx, newPending("r1", time.Unix(10, 0))))

	first := report.Artifact{RequestID: "r1", ClassID: "T1", Type: report.TypePDF, FileName: "a.pdf", StorageKey: "k1"}
	second := first
	second.StorageKey = "k2"
	require.NoError(t, store.RecordArtifact(ctx, first))
	require.NoError(t, store.RecordArtifact(ctx, second))

	require.Equal(t, 1, store.ArtifactCount())
	got, err := store.GetArtifact(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, "k1", got.StorageKey)
}

func TestRequestStoreListAndReap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRequestStore()
	store.SeedParticipations("T1", report.Participation{StudentName: "Ana"})
	ok, err := store.ClassHasParticipations(ctx, "T1")
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.ClassHasParticipations(ctx, "T2")
	require.NoError(t, err)
	require.False(t, ok)

	old := time.Unix(100, 0)
	fresh := time.Unix(5000, 0)
	stale := newPending("stale", time.Unix(1, 0))
	stale.Status = report.StatusProcessing
	stale.ProcessingStartedAt = &old
	live := newPending("live", time.Unix(2, 0))
	live.Status = report.StatusProcessing
	live.ProcessingStartedAt = &fresh
	require.NoError(t, store.CreateRequest(ctx, stale))
	require.NoError(t, store.CreateRequest(ctx, live))
	require.NoError(t, store.CreateRequest(ctx, newPending("pending", time.Unix(3, 0))))

	list, err := store.ListRequests(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "pending", list[0].ID)
	require.Equal(t, "live", list[1].ID)

	list, err = store.ListRequests(ctx, 10, 5)
	require.NoError(t, err)
	require.Empty(t, list)

	reaped, err := store.ReapStale(ctx, time.Unix(1000, 0), "processing exceeded max age")
	require.NoError(t, err)
	require.Equal(t, []string{"stale"}, reaped)

	req, err := store.GetRequest(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, report.StatusError, req.Status)
	require.Equal(t, "processing exceeded max age", req.ErrorMessage)

	status, err := store.GetStatus(ctx, "live")
	require.NoError(t, err)
	require.Equal(t, report.StatusProcessing, status)
}
