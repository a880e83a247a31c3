// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/class-reports/internal/report"
)

// RequestStore is an in-memory report.RequestStore.
type RequestStore struct {
	mu        sync.RWMutex
	now       func() time.Time
	requests  map[string]report.Request
	artifacts map[string]report.Artifact
	classes   map[string][]report.Participation
}

// NewRequestStore constructs a RequestStore.
func NewRequestStore() *RequestStore {
	return &RequestStore{
		now:       func() time.Time { return time.Now().UTC() },
		requests:  make(map[string]report.Request),
		artifacts: make(map[string]report.Artifact),
		classes:   make(map[string][]report.Participation),
	}
}

// SeedParticipations registers participation rows for a class.
func (s *RequestStore) SeedParticipations(classID string, rows ...report.Participation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[classID] = append(s.classes[classID], rows...)
}

// ListParticipations returns the participation rows seeded for a class.
func (s *RequestStore) ListParticipations(_ context.Context, classID string) ([]report.Participation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.classes[classID]
	out := make([]report.Participation, len(rows))
	copy(out, rows)
	return out, nil
}

// CreateRequest stores a new request.
func (s *RequestStore) CreateRequest(_ context.Context, req report.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[req.ID]; exists {
		return report.Validationf("request %s already exists", req.ID)
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
	s.requests[req.ID] = req
	return nil
}

// ClassHasParticipations reports whether participation rows exist for classID.
func (s *RequestStore) ClassHasParticipations(_ context.Context, classID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.classes[classID]) > 0, nil
}

// GetRequest fetches a request by ID.
func (s *RequestStore) GetRequest(_ context.Context, requestID string) (report.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return report.Request{}, report.NotFoundf("report request %s not found", requestID)
	}
	return req, nil
}

// GetStatus fetches the status of a request.
func (s *RequestStore) GetStatus(ctx context.Context, requestID string) (report.Status, error) {
	req, err := s.GetRequest(ctx, requestID)
	if err != nil {
		return "", err
	}
	return req.Status, nil
}

// UpdateStatus moves a request forward in its lifecycle.
func (s *RequestStore) UpdateStatus(_ context.Context, requestID string, status report.Status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return report.NotFoundf("report request %s not found", requestID)
	}
	if !req.Status.CanTransition(status) {
		return report.ErrStaleTransition
	}
	now := s.now()
	req.Status = status
	req.UpdatedAt = now
	if status == report.StatusProcessing {
		req.ProcessingStartedAt = &now
	}
	if status == report.StatusError {
		req.ErrorMessage = errMsg
	}
	s.requests[requestID] = req
	return nil
}

// RecordArtifact stores artifact metadata once per request; repeats are ignored.
func (s *RequestStore) RecordArtifact(_ context.Context, artifact report.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[artifact.RequestID]; !ok {
		return report.NotFoundf("report request %s not found", artifact.RequestID)
	}
	if _, exists := s.artifacts[artifact.RequestID]; exists {
		return nil
	}
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = s.now()
	}
	s.artifacts[artifact.RequestID] = artifact
	return nil
}

// Complete records the artifact and marks the request Completed under one lock.
func (s *RequestStore) Complete(_ context.Context, artifact report.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[artifact.RequestID]
	if !ok {
		return report.NotFoundf("report request %s not found", artifact.RequestID)
	}
	if !req.Status.CanTransition(report.StatusCompleted) {
		return report.ErrStaleTransition
	}
	now := s.now()
	if _, exists := s.artifacts[artifact.RequestID]; !exists {
		if artifact.CreatedAt.IsZero() {
			artifact.CreatedAt = now
		}
		s.artifacts[artifact.RequestID] = artifact
	}
	req.Status = report.StatusCompleted
	req.UpdatedAt = now
	s.requests[artifact.RequestID] = req
	return nil
}

// GetArtifact fetches the artifact recorded for a request.
func (s *RequestStore) GetArtifact(_ context.Context, requestID string) (report.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[requestID]
	if !ok {
		return report.Artifact{}, report.NotFoundf("artifact for request %s not found", requestID)
	}
	return artifact, nil
}

// ArtifactCount returns how many artifacts are recorded.
func (s *RequestStore) ArtifactCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.artifacts)
}

// ListRequests returns requests newest first.
func (s *RequestStore) ListRequests(_ context.Context, limit, offset int) ([]report.Request, error) {
	s.mu.RLock()
	all := make([]report.Request, 0, len(s.requests))
	for _, req := range s.requests {
		all = append(all, req)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	if offset >= len(all) {
		return []report.Request{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end], nil
}

// ReapStale moves requests stuck in processing since before olderThan to error.
func (s *RequestStore) ReapStale(_ context.Context, olderThan time.Time, reason string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []string
	now := s.now()
	for id, req := range s.requests {
		if req.Status != report.StatusProcessing || req.ProcessingStartedAt == nil {
			continue
		}
		if !req.ProcessingStartedAt.Before(olderThan) {
			continue
		}
		req.Status = report.StatusError
		req.ErrorMessage = reason
		req.UpdatedAt = now
		s.requests[id] = req
		reaped = append(reaped, id)
	}
	sort.Strings(reaped)
	return reaped, nil
}

// Ping always succeeds.
func (s *RequestStore) Ping(context.Context) error {
	return nil
}
