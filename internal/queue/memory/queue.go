// Package memory provides an in-process job queue for local development.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/class-reports/internal/queue"
	"github.com/JakeFAU/class-reports/internal/report"
)

type envelope struct {
	msg     report.JobMessage
	attempt int
	trace   map[string]string
}

// Queue is a bounded in-memory queue with context-aware operations. Nacked
// deliveries are re-enqueued after a delay. Nothing survives a restart.
type Queue struct {
	ch        chan envelope
	done      chan struct{}
	nackDelay time.Duration
	closeOnce sync.Once
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int, nackDelay time.Duration) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		ch:        make(chan envelope, capacity),
		done:      make(chan struct{}),
		nackDelay: nackDelay,
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, msg report.JobMessage) error {
	if err := queue.Validate(msg); err != nil {
		return err
	}
	return q.push(ctx, envelope{msg: msg, attempt: 1, trace: queue.InjectTrace(ctx)})
}

func (q *Queue) push(ctx context.Context, env envelope) error {
	select {
	case <-q.done:
		return queue.ErrClosed
	default:
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		return queue.ErrClosed
	case q.ch <- env:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (report.Delivery, error) {
	select {
	case <-ctx.Done():
		return report.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return report.Delivery{}, queue.ErrClosed
	case env := <-q.ch:
		ack, nack := queue.Settlement(func() {}, func() { q.redeliver(env) })
		return report.Delivery{
			Message:  env.msg,
			Attempt:  env.attempt,
			Metadata: env.trace,
			Ack:      ack,
			Nack:     nack,
		}, nil
	}
}

func (q *Queue) redeliver(env envelope) {
	env.attempt++
	time.AfterFunc(q.nackDelay, func() {
		_ = q.push(context.Background(), env)
	})
}

// Len reports the number of jobs waiting.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Pending and redelivered jobs are dropped.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
