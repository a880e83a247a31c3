// Package worker implements the report generation loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/class-reports/internal/logging"
	"github.com/JakeFAU/class-reports/internal/metrics"
	"github.com/JakeFAU/class-reports/internal/queue"
	"github.com/JakeFAU/class-reports/internal/render"
	"github.com/JakeFAU/class-reports/internal/report"
)

const tracerName = "github.com/JakeFAU/class-reports/internal/worker"

// Failure reasons persisted on requests moved to Error.
const (
	ReasonNoData      = "class has no participation data"
	ReasonUnsupported = "unsupported report type"
	ReasonTimeout     = "report generation timed out"
)

// Formats resolves the renderer for a report type.
type Formats interface {
	Lookup(t report.Type) (render.Format, bool)
}

// Config controls Worker behavior.
type Config struct {
	StoragePrefix string
	LeaseTTL      time.Duration
	// JobTimeout bounds one generation attempt. Zero means no bound.
	JobTimeout time.Duration
	// DequeueBackoff is the pause after a failed Dequeue.
	DequeueBackoff time.Duration
}

// Worker consumes generation jobs and drives each request to a terminal state.
type Worker struct {
	queue     report.Queue
	store     report.RequestStore
	artifacts report.ArtifactStore
	formats   Formats
	lease     report.Lease
	clock     report.Clock
	cfg       Config
	logger    *zap.Logger
	tracer    trace.Tracer
}

// New constructs a Worker.
func New(
	q report.Queue,
	store report.RequestStore,
	artifacts report.ArtifactStore,
	formats Formats,
	lease report.Lease,
	clock report.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Minute
	}
	if cfg.DequeueBackoff <= 0 {
		cfg.DequeueBackoff = 500 * time.Millisecond
	}
	return &Worker{
		queue:     q,
		store:     store,
		artifacts: artifacts,
		formats:   formats,
		lease:     lease,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
	}
}

// Run pulls jobs until pollCtx finishes or the queue closes. Jobs execute
// under jobCtx so in-flight work can outlive pollCtx.
func (w *Worker) Run(pollCtx, jobCtx context.Context) {
	for {
		d, err := w.queue.Dequeue(pollCtx)
		if err != nil {
			if pollCtx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			select {
			case <-pollCtx.Done():
				return
			case <-time.After(w.cfg.DequeueBackoff):
			}
			continue
		}
		w.Process(jobCtx, d)
	}
}

// Process handles one delivery and settles it. Deliveries for unknown or
// already terminal requests are acked without work.
func (w *Worker) Process(ctx context.Context, d report.Delivery) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	msg := d.Message
	ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(d.Metadata))
	ctx, span := w.tracer.Start(ctx, "report.generate", trace.WithAttributes(
		attribute.String("report.request_id", msg.RequestID),
		attribute.String("report.class_id", msg.ClassID),
		attribute.Int("report.attempt", d.Attempt),
	))
	defer span.End()

	logger := w.logger.With(logging.JobFields(msg, d.Attempt)...)
	ctx = logging.WithLogger(ctx, logger)

	req, err := w.store.GetRequest(ctx, msg.RequestID)
	switch {
	case report.IsNotFound(err):
		logger.Warn("job references unknown request; dropping")
		metrics.ObserveRedelivery("unknown_request")
		d.Ack()
		return
	case err != nil:
		logger.Error("load request failed", zap.Error(err))
		span.RecordError(err)
		w.redeliver(d, "store_unavailable")
		return
	case req.Status.Terminal():
		logger.Info("request already terminal; dropping duplicate delivery", zap.String("status", req.Status.String()))
		metrics.ObserveRedelivery("already_terminal")
		d.Ack()
		return
	}

	release, ok, err := w.lease.Acquire(ctx, req.ID, w.cfg.LeaseTTL)
	if err != nil {
		logger.Error("acquire lease failed", zap.Error(err))
		w.redeliver(d, "lease_error")
		return
	}
	if !ok {
		logger.Info("request is leased by another worker")
		w.redeliver(d, "lease_held")
		return
	}
	defer release()

	if err := w.store.UpdateStatus(ctx, req.ID, report.StatusProcessing, ""); err != nil {
		logger.Warn("mark processing failed; continuing", zap.Error(err))
	}

	start := w.clock.Now()
	artifact, size, genErr := w.generate(ctx, req)
	if genErr != nil && ctx.Err() != nil && !errors.Is(genErr, context.DeadlineExceeded) {
		// Shutdown interrupted the job; another worker picks it up.
		logger.Warn("generation interrupted", zap.Error(genErr))
		w.redeliver(d, "interrupted")
		return
	}

	var terminal report.Status
	var termErr error
	if genErr == nil {
		terminal = report.StatusCompleted
		termErr = w.complete(ctx, artifact)
	} else {
		terminal = report.StatusError
		reason := failureReason(genErr)
		span.RecordError(genErr)
		span.SetStatus(codes.Error, reason)
		logger.Error("report generation failed", zap.String("reason", reason), zap.Error(genErr))
		termErr = w.store.UpdateStatus(ctx, req.ID, report.StatusError, reason)
	}

	switch {
	case errors.Is(termErr, report.ErrStaleTransition):
		logger.Warn("request moved to a terminal state concurrently", zap.String("attempted", terminal.String()))
		metrics.ObserveRedelivery("superseded")
		d.Ack()
		return
	case termErr != nil:
		logger.Error("terminal status write failed", zap.String("attempted", terminal.String()), zap.Error(termErr))
		span.RecordError(termErr)
		w.redeliver(d, "terminal_write_failed")
		return
	}

	elapsed := w.clock.Now().Sub(start)
	metrics.ObserveJob(string(req.Type), string(terminal), elapsed)
	if terminal == report.StatusCompleted {
		metrics.ObserveArtifactBytes(string(req.Type), size)
		logger.Info("report generated",
			zap.String("storage_key", artifact.StorageKey),
			zap.Int64("bytes", size),
			zap.Duration("elapsed", elapsed),
		)
	}
	d.Ack()
}

func (w *Worker) redeliver(d report.Delivery, reason string) {
	metrics.ObserveRedelivery(reason)
	d.Nack()
}

// generate renders the report and streams it into the artifact store.
func (w *Worker) generate(ctx context.Context, req report.Request) (report.Artifact, int64, error) {
	format, ok := w.formats.Lookup(req.Type)
	if !ok {
		return report.Artifact{}, 0, errUnsupported
	}
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}

	key := format.StorageKey(w.cfg.StoragePrefix, req.ClassID, req.ID)
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	var renderErr error
	g.Go(func() error {
		renderErr = format.Renderer.Render(gctx, req.ClassID, pw)
		pw.CloseWithError(renderErr)
		return renderErr
	})
	var size int64
	var uploadErr error
	g.Go(func() error {
		n, err := w.artifacts.Upload(gctx, key, format.ContentType, pr)
		// Unblocks the renderer if the upload gave up early.
		pr.CloseWithError(err)
		size = n
		if err != nil {
			uploadErr = fmt.Errorf("upload %s: %w", key, err)
			return uploadErr
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		switch {
		case ctx.Err() != nil:
			return report.Artifact{}, 0, fmt.Errorf("generate: %w", ctx.Err())
		case errors.Is(renderErr, render.ErrNoData):
			return report.Artifact{}, 0, renderErr
		case uploadErr != nil:
			return report.Artifact{}, 0, uploadErr
		}
		return report.Artifact{}, 0, err
	}

	return report.Artifact{
		RequestID:   req.ID,
		ClassID:     req.ClassID,
		Type:        req.Type,
		FileName:    format.FileName(req.ClassID, w.clock.Now()),
		StorageKey:  key,
		ContentType: format.ContentType,
	}, size, nil
}

// complete records the artifact and flips the status together, so an
// artifact exists exactly when the request is Completed.
func (w *Worker) complete(ctx context.Context, artifact report.Artifact) error {
	if err := w.store.Complete(ctx, artifact); err != nil {
		return fmt.Errorf("complete request: %w", err)
	}
	return nil
}

var errUnsupported = errors.New(ReasonUnsupported)

func failureReason(err error) string {
	switch {
	case errors.Is(err, render.ErrNoData):
		return ReasonNoData
	case errors.Is(err, errUnsupported):
		return ReasonUnsupported
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return err.Error()
	}
}
