// Package reaper moves requests stuck in Processing to Error on a schedule.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/metrics"
	"github.com/JakeFAU/class-reports/internal/report"
)

// Reason is the failure reason persisted on reaped requests.
const Reason = "processing exceeded max age"

// Reaper sweeps stale Processing requests.
type Reaper struct {
	store    report.RequestStore
	clock    report.Clock
	maxAge   time.Duration
	schedule string
	logger   *zap.Logger
}

// New constructs a Reaper. schedule uses cron syntax, including the
// "@every <duration>" form.
func New(store report.RequestStore, clock report.Clock, schedule string, maxAge time.Duration, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{
		store:    store,
		clock:    clock,
		maxAge:   maxAge,
		schedule: schedule,
		logger:   logger,
	}
}

// RunOnce performs one sweep and returns the reaped request IDs.
func (r *Reaper) RunOnce(ctx context.Context) ([]string, error) {
	cutoff := r.clock.Now().Add(-r.maxAge)
	ids, err := r.store.ReapStale(ctx, cutoff, Reason)
	if err != nil {
		return nil, fmt.Errorf("reap stale requests: %w", err)
	}
	metrics.ObserveReaped(len(ids))
	if len(ids) > 0 {
		r.logger.Warn("reaped stale processing requests",
			zap.Int("count", len(ids)),
			zap.Strings("request_ids", ids),
			zap.Time("cutoff", cutoff),
		)
	}
	return ids, nil
}

// Run sweeps on the schedule until ctx finishes. Overlapping sweeps are skipped.
func (r *Reaper) Run(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("schedule reaper %q: %w", r.schedule, err)
	}
	c.Start()
	r.logger.Info("reaper started", zap.String("schedule", r.schedule), zap.Duration("max_age", r.maxAge))

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("reaper stopped")
	return nil
}
