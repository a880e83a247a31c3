package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/class-reports/internal/report"
	"github.com/JakeFAU/class-reports/internal/storage/memory"
)

type offsetClock struct{ offset time.Duration }

func (c offsetClock) Now() time.Time { return time.Now().UTC().Add(c.offset) }

func seedProcessing(t *testing.T, store *memory.RequestStore, ids ...string) {
	t.Helper()
	ctx := context.Background()
	for _, id := range ids {
		now := time.Now().UTC()
		require.NoError(t, store.CreateRequest(ctx, report.Request{
			ID: id, ClassID: "T1", Type: report.TypePDF, Status: report.StatusPending,
			CreatedAt: now, UpdatedAt: now,
		}))
		require.NoError(t, store.UpdateStatus(ctx, id, report.StatusProcessing, ""))
	}
}

func TestRunOnceReapsOnlyStaleProcessing(t *testing.T) {
	t.Parallel()

	store := memory.NewRequestStore()
	seedProcessing(t, store, "r1", "r2")
	now := time.Now().UTC()
	require.NoError(t, store.CreateRequest(context.Background(), report.Request{
		ID: "pending", ClassID: "T1", Type: report.TypePDF, Status: report.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}))

	// Nothing is older than max age yet.
	fresh := New(store, offsetClock{}, "@every 1m", time.Hour, nil)
	ids, err := fresh.RunOnce(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)

	// Two hours later both processing rows are stale.
	later := New(store, offsetClock{offset: 2 * time.Hour}, "@every 1m", time.Hour, nil)
	ids, err = later.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"r1", "r2"}, ids)

	for _, id := range ids {
		req, err := store.GetRequest(context.Background(), id)
		require.NoError(t, err)
		require.Equal(t, report.StatusError, req.Status)
		require.Equal(t, Reason, req.ErrorMessage)
	}
	status, err := store.GetStatus(context.Background(), "pending")
	require.NoError(t, err)
	require.Equal(t, report.StatusPending, status)
}

type failingStore struct{ *memory.RequestStore }

func (failingStore) ReapStale(context.Context, time.Time, string) ([]string, error) {
	return nil, errors.New("db down")
}

func TestRunOncePropagatesErrors(t *testing.T) {
	t.Parallel()

	r := New(failingStore{memory.NewRequestStore()}, offsetClock{}, "@every 1m", time.Hour, nil)
	_, err := r.RunOnce(context.Background())
	require.ErrorContains(t, err, "db down")
}

func TestRunSweepsOnSchedule(t *testing.T) {
	t.Parallel()

	store := memory.NewRequestStore()
	seedProcessing(t, store, "r1")
	r := New(store, offsetClock{offset: 2 * time.Hour}, "@every 1s", time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		status, err := store.GetStatus(context.Background(), "r1")
		return err == nil && status == report.StatusError
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRunRejectsBadSchedule(t *testing.T) {
	t.Parallel()

	r := New(memory.NewRequestStore(), offsetClock{}, "whenever", time.Hour, nil)
	require.Error(t, r.Run(context.Background()))
}
