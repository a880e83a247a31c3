// Package download issues short-lived download links for completed reports.
package download

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/class-reports/internal/report"
)

// DefaultTTL is the lifetime of an issued download link.
const DefaultTTL = 300 * time.Second

// Link is a presigned download URL and its expiry.
type Link struct {
	URL              string    `json:"downloadUrl"`
	FileName         string    `json:"fileName"`
	ExpiresInSeconds int       `json:"expiresInSeconds"`
	ExpiresAt        time.Time `json:"expiresAt"`
}

// Issuer presigns artifact downloads.
type Issuer struct {
	store     report.RequestStore
	artifacts report.ArtifactStore
	clock     report.Clock
	ttl       time.Duration
	logger    *zap.Logger
}

// NewIssuer constructs an Issuer. A non-positive ttl selects DefaultTTL.
func NewIssuer(
	store report.RequestStore,
	artifacts report.ArtifactStore,
	clock report.Clock,
	ttl time.Duration,
	logger *zap.Logger,
) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Issuer{store: store, artifacts: artifacts, clock: clock, ttl: ttl, logger: logger}
}

// GetDownloadURL returns a presigned link for a Completed request's artifact.
func (i *Issuer) GetDownloadURL(ctx context.Context, requestID string) (Link, error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return Link{}, report.NotFoundf("report request not found")
	}
	status, err := i.store.GetStatus(ctx, requestID)
	if err != nil {
		return Link{}, fmt.Errorf("get status %s: %w", requestID, err)
	}
	if status != report.StatusCompleted {
		return Link{}, report.Validationf("report is not ready for download (status: %s)", status.String())
	}

	artifact, err := i.store.GetArtifact(ctx, requestID)
	if err != nil {
		if report.IsNotFound(err) {
			// Completed without an artifact row breaks the store's invariant.
			i.logger.Error("completed request has no artifact", zap.String("request_id", requestID))
			return Link{}, report.Validationf("report artifact not found")
		}
		return Link{}, fmt.Errorf("get artifact %s: %w", requestID, err)
	}

	issuedAt := i.clock.Now()
	url, err := i.artifacts.PresignGetURL(ctx, artifact.StorageKey, i.ttl, artifact.FileName)
	if err != nil {
		return Link{}, report.Infrastructure(err, "presign download url")
	}
	return Link{
		URL:              url,
		FileName:         artifact.FileName,
		ExpiresInSeconds: int(i.ttl / time.Second),
		ExpiresAt:        issuedAt.Add(i.ttl),
	}, nil
}
