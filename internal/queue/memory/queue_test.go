package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/class-reports/internal/queue"
	"github.com/JakeFAU/class-reports/internal/report"
)

func TestQueueEnqueueDequeue(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Millisecond)
	result := make(chan report.Delivery, 1)
	errCh := make(chan error, 1)

	go func() {
		d, err := q.Dequeue(context.Background())
		if err != nil {
			errCh <- err
			return
		}
		result <- d
	}()

	require.NoError(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1", RequestID: "req-1"}))
	select {
	case err := <-errCh:
		t.Fatalf("Dequeue() error = %v", err)
	case got := <-result:
		require.Equal(t, "req-1", got.Message.RequestID)
		require.Equal(t, 1, got.Attempt)
		got.Ack()
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return job")
	}
}

func TestQueueNackRedelivers(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, 5*time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1", RequestID: "req-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := q.Dequeue(ctx)
	require.NoError(t, err)
	first.Nack()
	first.Nack()

	second, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "req-1", second.Message.RequestID)
	require.Equal(t, 2, second.Attempt)
	second.Ack()
	require.Zero(t, q.Len())
}

func TestQueueCancelationErrors(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1", RequestID: "primed"}))
	err = q.Enqueue(ctx, report.JobMessage{ClassID: "T1", RequestID: "blocked"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueueRejectsInvalidMessages(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Millisecond)
	require.Error(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1"}))
}

func TestQueueClose(t *testing.T) {
	t.Parallel()

	q := NewQueue(1, time.Millisecond)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Dequeue(context.Background())
	require.True(t, errors.Is(err, queue.ErrClosed))
	require.ErrorIs(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1", RequestID: "r"}), queue.ErrClosed)
}
