// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is a worker loop. It stops taking work when pollCtx finishes and
// runs jobs under jobCtx.
type Runner interface {
	Run(pollCtx, jobCtx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	workers []Runner
	grace   time.Duration
	logger  *zap.Logger
}

// New creates a Dispatcher. grace bounds how long in-flight jobs may run
// after shutdown begins.
func New(workers []Runner, grace time.Duration, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		grace:   grace,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes and the
// workers drain. Jobs still running when the grace period lapses are
// canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk Runner) {
			defer wg.Done()
			wk.Run(ctx, jobCtx)
		}(w)
	}
	d.logger.Info("workers started", zap.Int("count", len(d.workers)))

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return
	case <-ctx.Done():
	}

	d.logger.Info("draining workers", zap.Duration("grace", d.grace))
	timer := time.NewTimer(d.grace)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		d.logger.Warn("grace period elapsed; canceling in-flight jobs")
		cancelJobs()
		<-drained
	}
	d.logger.Info("workers stopped")
}
