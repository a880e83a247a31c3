// Package pubsub implements the job queue on Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/queue"
	"github.com/JakeFAU/class-reports/internal/report"
)

// Queue publishes jobs to a topic and bridges the subscription's push-style
// Receive loop into pull-style Dequeue calls.
type Queue struct {
	publisher  *pubsub.Publisher
	subscriber *pubsub.Subscriber
	logger     *zap.Logger

	deliveries chan report.Delivery
	startOnce  sync.Once
	cancel     context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once

	mu      sync.Mutex
	recvErr error
}

// New wires a publisher and subscriber. maxOutstanding bounds how many
// messages the subscriber leases at once and should match worker concurrency.
func New(publisher *pubsub.Publisher, subscriber *pubsub.Subscriber, maxOutstanding int, logger *zap.Logger) (*Queue, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if subscriber != nil && maxOutstanding > 0 {
		subscriber.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &Queue{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger,
		deliveries: make(chan report.Delivery),
		done:       make(chan struct{}),
	}, nil
}

// Enqueue publishes msg and waits for the server to acknowledge it, so a
// failed publish surfaces to the caller.
func (q *Queue) Enqueue(ctx context.Context, msg report.JobMessage) error {
	data, err := queue.Encode(msg, nil)
	if err != nil {
		return err
	}
	out := &pubsub.Message{Data: data, Attributes: map[string]string{"requestId": msg.RequestID}}
	otel.GetTextMapPropagator().Inject(ctx, &attributeCarrier{attrs: out.Attributes})

	if _, err := q.publisher.Publish(ctx, out).Get(ctx); err != nil {
		return fmt.Errorf("publish job %s: %w", msg.RequestID, err)
	}
	return nil
}

// Dequeue blocks until a message arrives. The first call starts receiving.
func (q *Queue) Dequeue(ctx context.Context) (report.Delivery, error) {
	if q.subscriber == nil {
		return report.Delivery{}, fmt.Errorf("pubsub subscriber is not configured")
	}
	q.startOnce.Do(q.startReceiving)
	select {
	case <-ctx.Done():
		return report.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case d := <-q.deliveries:
		return d, nil
	case <-q.done:
		q.mu.Lock()
		defer q.mu.Unlock()
		if q.recvErr != nil {
			return report.Delivery{}, fmt.Errorf("pubsub receive: %w", q.recvErr)
		}
		return report.Delivery{}, queue.ErrClosed
	}
}

func (q *Queue) startReceiving() {
	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	go func() {
		err := q.subscriber.Receive(ctx, q.handle)
		if err != nil {
			q.logger.Error("pubsub receive stopped", zap.Error(err))
			q.mu.Lock()
			q.recvErr = err
			q.mu.Unlock()
		}
		q.closeOnce.Do(func() { close(q.done) })
	}()
}

func (q *Queue) handle(ctx context.Context, m *pubsub.Message) {
	env, err := queue.Decode(m.Data)
	if err != nil {
		// Redelivering a malformed message can never succeed.
		q.logger.Error("dropping malformed job message", zap.String("message_id", m.ID), zap.Error(err))
		m.Ack()
		return
	}
	attempt := 1
	if m.DeliveryAttempt != nil {
		attempt = *m.DeliveryAttempt
	}
	ack, nack := queue.Settlement(m.Ack, m.Nack)
	d := report.Delivery{
		Message:  env.JobMessage,
		Attempt:  attempt,
		Metadata: m.Attributes,
		Ack:      ack,
		Nack:     nack,
	}
	select {
	case q.deliveries <- d:
	case <-ctx.Done():
		m.Nack()
	}
}

// Close stops receiving and flushes the publisher. Unsettled messages are
// redelivered by Pub/Sub once their ack deadline passes.
func (q *Queue) Close() error {
	if q.cancel != nil {
		q.cancel()
	}
	q.closeOnce.Do(func() { close(q.done) })
	q.publisher.Stop()
	return nil
}

// attributeCarrier implements propagation.TextMapCarrier for message attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c *attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
