package report

import (
	"context"
	"io"
	"time"
)

// RequestStore persists report requests and their generated artifacts. It is
// the single source of truth for request status.
type RequestStore interface {
	CreateRequest(ctx context.Context, req Request) error
	ClassHasParticipations(ctx context.Context, classID string) (bool, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	GetStatus(ctx context.Context, requestID string) (Status, error)
	UpdateStatus(ctx context.Context, requestID string, status Status, errMsg string) error
	RecordArtifact(ctx context.Context, artifact Artifact) error
	// Complete moves the request to Completed and records its artifact in one
	// step. It returns ErrStaleTransition, recording nothing, when the request
	// is already terminal.
	Complete(ctx context.Context, artifact Artifact) error
	GetArtifact(ctx context.Context, requestID string) (Artifact, error)
	ListRequests(ctx context.Context, limit, offset int) ([]Request, error)
	ReapStale(ctx context.Context, olderThan time.Time, reason string) ([]string, error)
	Ping(ctx context.Context) error
}

// Queue transports generation jobs with at-least-once delivery.
type Queue interface {
	Enqueue(ctx context.Context, msg JobMessage) error
	Dequeue(ctx context.Context) (Delivery, error)
	Close() error
}

// ArtifactStore uploads rendered artifacts and issues presigned download URLs.
type ArtifactStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader) (int64, error)
	PresignGetURL(ctx context.Context, key string, ttl time.Duration, downloadName string) (string, error)
}

// Lease grants a worker exclusive processing of a request for a bounded time.
type Lease interface {
	Acquire(ctx context.Context, requestID string, ttl time.Duration) (release func(), ok bool, err error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}
