package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/logging"
	"github.com/JakeFAU/class-reports/internal/metrics"
	"github.com/JakeFAU/class-reports/internal/report"
)

type createReportRequest struct {
	ClassID    string `json:"classId"`
	ReportType string `json:"reportType"`
}

type statusResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

type reportSummary struct {
	RequestID  string `json:"requestId"`
	ClassID    string `json:"classId"`
	ReportType string `json:"reportType"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func (s *Server) createReport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}
	violations, err := schemaViolations(createReportValidator, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(violations) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "request body does not match schema",
			"details": violations,
		})
		return
	}
	var req createReportRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if s.limiter != nil && !s.limiter.Allow(strings.TrimSpace(req.ClassID)) {
		metrics.ObserveRateLimited()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "too many report requests for this class")
		return
	}

	id, err := s.intake.Create(r.Context(), req.ClassID, req.ReportType)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": id})
}

func (s *Server) listReports(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}
	reqs, err := s.intake.List(r.Context(), limit, offset)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	out := make([]reportSummary, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, reportSummary{
			RequestID:  req.ID,
			ClassID:    req.ClassID,
			ReportType: string(req.Type),
			Status:     req.Status.String(),
			Error:      req.ErrorMessage,
			CreatedAt:  req.CreatedAt.Format(time.RFC3339),
			UpdatedAt:  req.UpdatedAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": out})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.intake.GetStatus(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		RequestID: view.RequestID,
		Status:    view.Status.String(),
		Error:     view.Error,
	})
}

func (s *Server) getDownload(w http.ResponseWriter, r *http.Request) {
	link, err := s.downloads.GetDownloadURL(r.Context(), chi.URLParam(r, "request_id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, link)
}

// writeDomainError maps error kinds to HTTP codes. Infrastructure details are
// logged, never returned.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch report.KindOf(err) {
	case report.KindValidation:
		writeError(w, http.StatusBadRequest, report.PublicMessage(err))
	case report.KindNotFound:
		writeError(w, http.StatusNotFound, report.PublicMessage(err))
	default:
		logging.FromContext(r.Context(), s.logger).Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, report.PublicMessage(err))
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err //nolint:wrapcheck // mapped to a 400 by the caller
	}
	return v, nil
}
