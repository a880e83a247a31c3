// Package asynq implements the job queue on Redis using asynq.
package asynq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/queue"
	"github.com/JakeFAU/class-reports/internal/report"
)

// TaskType is the asynq task type carrying report generation jobs.
const TaskType = "report:generate"

// errRedeliver is returned to asynq for nacked deliveries so the task is
// retried with asynq's backoff.
var errRedeliver = errors.New("delivery nacked")

// Config controls the asynq client and server.
type Config struct {
	RedisURL    string
	Queue       string
	MaxRetry    int
	Concurrency int
}

// Queue enqueues tasks with an asynq client and bridges the asynq server's
// handler callbacks into pull-style Dequeue calls.
type Queue struct {
	client     *asynq.Client
	server     *asynq.Server
	queueName  string
	maxRetry   int
	logger     *zap.Logger
	deliveries chan report.Delivery
	done       chan struct{}
	startOnce  sync.Once
	closeOnce  sync.Once
	startErr   error
}

// New connects to Redis and prepares a server consuming cfg.Queue.
func New(cfg Config, logger *zap.Logger) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Queue == "" {
		cfg.Queue = "reports"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      logger.Named("asynq").Sugar(),
	})
	return &Queue{
		client:     asynq.NewClient(opt),
		server:     server,
		queueName:  cfg.Queue,
		maxRetry:   cfg.MaxRetry,
		logger:     logger,
		deliveries: make(chan report.Delivery),
		done:       make(chan struct{}),
	}, nil
}

// Enqueue stores the task in Redis.
func (q *Queue) Enqueue(ctx context.Context, msg report.JobMessage) error {
	payload, err := queue.Encode(msg, queue.InjectTrace(ctx))
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskType, payload)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.Queue(q.queueName), asynq.MaxRetry(q.maxRetry)); err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.RequestID, err)
	}
	return nil
}

// Dequeue blocks until the server hands over a task. The first call starts
// the server.
func (q *Queue) Dequeue(ctx context.Context) (report.Delivery, error) {
	q.startOnce.Do(func() {
		mux := asynq.NewServeMux()
		mux.HandleFunc(TaskType, q.handle)
		q.startErr = q.server.Start(mux)
	})
	if q.startErr != nil {
		return report.Delivery{}, fmt.Errorf("start asynq server: %w", q.startErr)
	}
	select {
	case <-ctx.Done():
		return report.Delivery{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return report.Delivery{}, queue.ErrClosed
	case d := <-q.deliveries:
		return d, nil
	}
}

// handle runs on an asynq worker goroutine and blocks until the delivery is
// settled. Returning an error makes asynq retry the task.
func (q *Queue) handle(ctx context.Context, task *asynq.Task) error {
	env, err := queue.Decode(task.Payload())
	if err != nil {
		q.logger.Error("dropping malformed job message", zap.Error(err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	retried, _ := asynq.GetRetryCount(ctx)

	settled := make(chan error, 1)
	ack, nack := queue.Settlement(
		func() { settled <- nil },
		func() { settled <- errRedeliver },
	)
	d := report.Delivery{
		Message:  env.JobMessage,
		Attempt:  retried + 1,
		Metadata: env.Trace,
		Ack:      ack,
		Nack:     nack,
	}
	select {
	case q.deliveries <- d:
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return queue.ErrClosed
	}
	select {
	case err := <-settled:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the server, waiting for in-flight handlers, and closes the client.
func (q *Queue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		q.server.Shutdown()
		err = q.client.Close()
	})
	if err != nil {
		return fmt.Errorf("close asynq client: %w", err)
	}
	return nil
}
