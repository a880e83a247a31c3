package report

import (
	"fmt"
	"strings"
	"time"
)

// Status represents the lifecycle state of a report request.
type Status string

// Status values persisted in the request store.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// String returns the display form used in API responses and error messages.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusProcessing:
		return "Processing"
	case StatusCompleted:
		return "Completed"
	case StatusError:
		return "Error"
	default:
		return string(s)
	}
}

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// Predecessors lists the states a request may be in immediately before moving to s.
func (s Status) Predecessors() []Status {
	switch s {
	case StatusProcessing:
		// Processing -> Processing lets a redelivered job holding the lease
		// restart the max-age clock.
		return []Status{StatusPending, StatusProcessing}
	case StatusCompleted, StatusError:
		return []Status{StatusPending, StatusProcessing}
	default:
		return nil
	}
}

// CanTransition reports whether moving from s to next respects the forward-only lifecycle.
func (s Status) CanTransition(next Status) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

// Type is the closed set of supported report kinds.
type Type string

// Supported report types.
const (
	TypePDF      Type = "pdf"
	TypeXLSX     Type = "xlsx"
	TypeWorkload Type = "workload"
)

// Types returns every supported report type in a stable order.
func Types() []Type {
	return []Type{TypePDF, TypeXLSX, TypeWorkload}
}

// ParseType resolves a wire name into a Type. Names are case-insensitive and
// the legacy "Excel" name maps to xlsx.
func ParseType(raw string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pdf":
		return TypePDF, nil
	case "xlsx", "excel":
		return TypeXLSX, nil
	case "workload":
		return TypeWorkload, nil
	default:
		return "", fmt.Errorf("unsupported report type %q", raw)
	}
}

// Request is the persisted record of a report request.
type Request struct {
	ID                  string     `json:"requestId"`
	ClassID             string     `json:"classId"`
	Type                Type       `json:"reportType"`
	Status              Status     `json:"status"`
	ErrorMessage        string     `json:"error,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	ProcessingStartedAt *time.Time `json:"processingStartedAt,omitempty"`
}

// Artifact is the metadata recorded for a successfully generated report.
type Artifact struct {
	RequestID   string    `json:"requestId"`
	ClassID     string    `json:"classId"`
	Type        Type      `json:"reportType"`
	FileName    string    `json:"fileName"`
	StorageKey  string    `json:"storageKey"`
	ContentType string    `json:"contentType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// JobMessage is the queue payload for one generation job.
type JobMessage struct {
	ClassID   string `json:"classId"`
	RequestID string `json:"requestId"`
	Type      Type   `json:"reportType,omitempty"`
}

// Delivery is a dequeued job awaiting settlement. Exactly one of Ack or Nack
// should be called; extra calls are ignored by every queue backend.
type Delivery struct {
	Message  JobMessage
	Attempt  int
	// Metadata carries propagated trace context from the enqueuing request.
	Metadata map[string]string
	Ack      func()
	Nack     func()
}

// Participation is one student's participation in an activity of a class.
type Participation struct {
	StudentID     string
	StudentName   string
	Email         string
	Activity      string
	ActivityType  string
	Present       *bool
	Hours         *float64
	Grade         *float64
	Concept       string
	Assessment    string
	WorkloadReal  float64
	WorkloadSimul float64
}
