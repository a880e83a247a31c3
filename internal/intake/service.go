// Package intake validates report requests, persists them and enqueues their
// generation jobs.
package intake

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/metrics"
	"github.com/JakeFAU/class-reports/internal/report"
)

// Default and maximum page sizes for List.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// StatusView is the caller-facing state of a request.
type StatusView struct {
	RequestID string        `json:"requestId"`
	Status    report.Status `json:"-"`
	Error     string        `json:"error,omitempty"`
}

// Service accepts report requests.
type Service struct {
	store  report.RequestStore
	queue  report.Queue
	ids    report.IDGenerator
	clock  report.Clock
	logger *zap.Logger
}

// New constructs a Service.
func New(
	store report.RequestStore,
	queue report.Queue,
	ids report.IDGenerator,
	clock report.Clock,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		queue:  queue,
		ids:    ids,
		clock:  clock,
		logger: logger,
	}
}

// Create validates the request, persists it as Pending and enqueues its job.
// The request ID is returned once the job is enqueued.
func (s *Service) Create(ctx context.Context, classID, rawType string) (string, error) {
	classID = strings.TrimSpace(classID)
	rawType = strings.TrimSpace(rawType)
	if classID == "" {
		return "", report.Validationf("classId is required")
	}
	if rawType == "" {
		return "", report.Validationf("reportType is required")
	}
	reportType, err := report.ParseType(rawType)
	if err != nil {
		return "", report.Validationf("reportType %q is not supported", rawType)
	}

	exists, err := s.store.ClassHasParticipations(ctx, classID)
	if err != nil {
		return "", fmt.Errorf("check class %s: %w", classID, err)
	}
	if !exists {
		return "", report.Validationf("class %s has no participations", classID)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return "", report.Infrastructure(err, "generate request id")
	}
	now := s.clock.Now()
	req := report.Request{
		ID:        id,
		ClassID:   classID,
		Type:      reportType,
		Status:    report.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRequest(ctx, req); err != nil {
		return "", fmt.Errorf("persist request: %w", err)
	}

	msg := report.JobMessage{ClassID: classID, RequestID: id, Type: reportType}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		// The row stays Pending with no job behind it. It is surfaced, not repaired.
		metrics.ObserveOrphanedRequest()
		s.logger.Error("enqueue failed; request left pending without a job",
			zap.String("request_id", id),
			zap.String("class_id", classID),
			zap.Error(err),
		)
		return "", report.Infrastructure(err, "enqueue report job")
	}

	metrics.ObserveRequest(string(reportType))
	s.logger.Info("report requested",
		zap.String("request_id", id),
		zap.String("class_id", classID),
		zap.String("report_type", string(reportType)),
	)
	return id, nil
}

// GetStatus returns the status of a request and, for failed requests, the
// persisted failure reason.
func (s *Service) GetStatus(ctx context.Context, requestID string) (StatusView, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return StatusView{}, report.NotFoundf("report request not found")
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return StatusView{}, fmt.Errorf("get request %s: %w", requestID, err)
	}
	view := StatusView{RequestID: req.ID, Status: req.Status}
	if req.Status == report.StatusError {
		view.Error = req.ErrorMessage
	}
	return view, nil
}

// List returns a page of requests, newest first. limit is clamped to
// [1, MaxListLimit] and defaults to DefaultListLimit.
func (s *Service) List(ctx context.Context, limit, offset int) ([]report.Request, error) {
	switch {
	case limit <= 0:
		limit = DefaultListLimit
	case limit > MaxListLimit:
		limit = MaxListLimit
	}
	if offset < 0 {
		return nil, report.Validationf("offset must be >= 0")
	}
	reqs, err := s.store.ListRequests(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return reqs, nil
}
