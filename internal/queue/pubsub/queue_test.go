package pubsub

import (
	"context"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/class-reports/internal/report"
)

const (
	testProject      = "projects/class-reports"
	testTopic        = testProject + "/topics/report-jobs"
	testSubscription = testProject + "/subscriptions/report-workers"
)

func newTestQueue(t *testing.T) (*Queue, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "class-reports", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: testTopic})
	require.NoError(t, err)
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:               testSubscription,
		Topic:              testTopic,
		AckDeadlineSeconds: 10,
	})
	require.NoError(t, err)

	q, err := New(client.Publisher(testTopic), client.Subscriber(testSubscription), 2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q, srv
}

func TestNewRequiresPublisher(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, 1, nil)
	require.Error(t, err)
}

func TestEnqueuePublishesJSON(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t)
	require.NoError(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1", RequestID: "req-1", Type: report.TypePDF}))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"classId":"T1","requestId":"req-1","reportType":"pdf"}`, string(msgs[0].Data))
	require.Equal(t, "req-1", msgs[0].Attributes["requestId"])
}

func TestEnqueueRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	require.Error(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1"}))
}

func TestDequeueDeliversAndAcks(t *testing.T) {
	t.Parallel()

	q, srv := newTestQueue(t)
	require.NoError(t, q.Enqueue(context.Background(), report.JobMessage{ClassID: "T1", RequestID: "req-1"}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "req-1", d.Message.RequestID)
	require.Equal(t, 1, d.Attempt)
	d.Ack()

	require.Eventually(t, func() bool {
		msgs := srv.Messages()
		return len(msgs) == 1 && msgs[0].Acks > 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDequeueHonoursContext(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
