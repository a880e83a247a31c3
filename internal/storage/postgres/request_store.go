// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/class-reports/internal/report"
)

// PoolConfig controls the Postgres connection pool shared by the stores.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool used by the stores. pgxmock pools satisfy it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// NewPool opens a bounded pgx pool. Callers block when every connection is busy.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// RequestStore implements report.RequestStore on Postgres.
type RequestStore struct {
	db  DB
	now func() time.Time
}

// NewRequestStore wraps an open pool.
func NewRequestStore(db DB) (*RequestStore, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RequestStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying pool resources.
func (s *RequestStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

// Ping checks database connectivity.
func (s *RequestStore) Ping(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return report.Infrastructure(err, "ping request store")
	}
	return nil
}

// CreateRequest inserts a new request row.
func (s *RequestStore) CreateRequest(ctx context.Context, req report.Request) error {
	const query = `
		INSERT INTO report_requests (id, class_id, report_type, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5);
	`
	if _, err := s.db.Exec(ctx, query, req.ID, req.ClassID, string(req.Type), string(req.Status), req.CreatedAt); err != nil {
		return report.Infrastructure(err, "insert report request")
	}
	return nil
}

// ClassHasParticipations checks for participation rows referencing classID.
func (s *RequestStore) ClassHasParticipations(ctx context.Context, classID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM participations WHERE class_id = $1);`
	var exists bool
	if err := s.db.QueryRow(ctx, query, classID).Scan(&exists); err != nil {
		return false, report.Infrastructure(err, "check class participations")
	}
	return exists, nil
}

const selectRequest = `
	SELECT id, class_id, report_type, status, COALESCE(error_message, ''), created_at, updated_at, processing_started_at
	FROM report_requests
`

func scanRequest(row pgx.Row) (report.Request, error) {
	var (
		req        report.Request
		reportType string
		status     string
	)
	err := row.Scan(
		&req.ID,
		&req.ClassID,
		&reportType,
		&status,
		&req.ErrorMessage,
		&req.CreatedAt,
		&req.UpdatedAt,
		&req.ProcessingStartedAt,
	)
	if err != nil {
		return report.Request{}, err
	}
	req.Type = report.Type(reportType)
	req.Status = report.Status(status)
	return req, nil
}

// GetRequest fetches a single request by ID.
func (s *RequestStore) GetRequest(ctx context.Context, requestID string) (report.Request, error) {
	req, err := scanRequest(s.db.QueryRow(ctx, selectRequest+` WHERE id = $1;`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return report.Request{}, report.NotFoundf("report request %s not found", requestID)
		}
		return report.Request{}, report.Infrastructure(err, "get report request")
	}
	return req, nil
}

// GetStatus fetches only the status column of a request.
func (s *RequestStore) GetStatus(ctx context.Context, requestID string) (report.Status, error) {
	const query = `SELECT status FROM report_requests WHERE id = $1;`
	var status string
	if err := s.db.QueryRow(ctx, query, requestID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", report.NotFoundf("report request %s not found", requestID)
		}
		return "", report.Infrastructure(err, "get report status")
	}
	return report.Status(status), nil
}

// UpdateStatus moves a request forward. The WHERE clause only matches rows in
// an allowed predecessor state, so concurrent or redelivered writers cannot
// regress a request.
func (s *RequestStore) UpdateStatus(
	ctx context.Context,
	requestID string,
	status report.Status,
	errMsg string,
) error {
	const query = `
		UPDATE report_requests
		SET status = $2,
			updated_at = $3,
			processing_started_at = CASE WHEN $2 = 'processing' THEN $3 ELSE processing_started_at END,
			error_message = CASE WHEN $2 = 'error' THEN $4 ELSE error_message END
		WHERE id = $1 AND status = ANY($5);
	`
	predecessors := make([]string, 0, 2)
	for _, p := range status.Predecessors() {
		predecessors = append(predecessors, string(p))
	}
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	tag, err := s.db.Exec(ctx, query, requestID, string(status), s.now(), msg, predecessors)
	if err != nil {
		return report.Infrastructure(err, "update report status")
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetStatus(ctx, requestID); err != nil {
		return err
	}
	return report.ErrStaleTransition
}

// RecordArtifact inserts artifact metadata. A second insert for the same
// request is ignored.
func (s *RequestStore) RecordArtifact(ctx context.Context, artifact report.Artifact) error {
	const query = `
		INSERT INTO generated_reports (request_id, class_id, report_type, file_name, storage_key, content_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (request_id) DO NOTHING;
	`
	createdAt := artifact.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.Exec(
		ctx,
		query,
		artifact.RequestID,
		artifact.ClassID,
		string(artifact.Type),
		artifact.FileName,
		artifact.StorageKey,
		artifact.ContentType,
		createdAt,
	)
	if err != nil {
		return report.Infrastructure(err, "record generated report")
	}
	return nil
}

// Complete marks the request completed and inserts its artifact in a single
// statement. The insert only sees a row when the guarded update matched, so a
// request reaped or failed in the meantime keeps no artifact.
func (s *RequestStore) Complete(ctx context.Context, artifact report.Artifact) error {
	const query = `
		WITH moved AS (
			UPDATE report_requests
			SET status = 'completed', updated_at = $7
			WHERE id = $1 AND status = ANY($8)
			RETURNING id
		), recorded AS (
			INSERT INTO generated_reports (request_id, class_id, report_type, file_name, storage_key, content_type, created_at)
			SELECT id, $2, $3, $4, $5, $6, $7 FROM moved
			ON CONFLICT (request_id) DO NOTHING
		)
		SELECT COUNT(*) FROM moved;
	`
	now := s.now()
	predecessors := make([]string, 0, 2)
	for _, p := range report.StatusCompleted.Predecessors() {
		predecessors = append(predecessors, string(p))
	}
	var moved int64
	err := s.db.QueryRow(
		ctx,
		query,
		artifact.RequestID,
		artifact.ClassID,
		string(artifact.Type),
		artifact.FileName,
		artifact.StorageKey,
		artifact.ContentType,
		now,
		predecessors,
	).Scan(&moved)
	if err != nil {
		return report.Infrastructure(err, "complete report request")
	}
	if moved > 0 {
		return nil
	}
	if _, err := s.GetStatus(ctx, artifact.RequestID); err != nil {
		return err
	}
	return report.ErrStaleTransition
}

// GetArtifact fetches the artifact recorded for a request.
func (s *RequestStore) GetArtifact(ctx context.Context, requestID string) (report.Artifact, error) {
	const query = `
		SELECT request_id, class_id, report_type, file_name, storage_key, content_type, created_at
		FROM generated_reports
		WHERE request_id = $1;
	`
	var (
		artifact   report.Artifact
		reportType string
	)
	err := s.db.QueryRow(ctx, query, requestID).Scan(
		&artifact.RequestID,
		&artifact.ClassID,
		&reportType,
		&artifact.FileName,
		&artifact.StorageKey,
		&artifact.ContentType,
		&artifact.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return report.Artifact{}, report.NotFoundf("artifact for request %s not found", requestID)
		}
		return report.Artifact{}, report.Infrastructure(err, "get generated report")
	}
	artifact.Type = report.Type(reportType)
	return artifact, nil
}

// ListRequests returns a page of requests, newest first.
func (s *RequestStore) ListRequests(ctx context.Context, limit, offset int) ([]report.Request, error) {
	rows, err := s.db.Query(ctx, selectRequest+` ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2;`, limit, offset)
	if err != nil {
		return nil, report.Infrastructure(err, "list report requests")
	}
	defer rows.Close()

	out := make([]report.Request, 0, limit)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, report.Infrastructure(err, "scan report request")
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, report.Infrastructure(err, "iterate report requests")
	}
	return out, nil
}

// ReapStale moves every request processing since before olderThan to error.
func (s *RequestStore) ReapStale(ctx context.Context, olderThan time.Time, reason string) ([]string, error) {
	const query = `
		UPDATE report_requests
		SET status = 'error', error_message = $2, updated_at = $3
		WHERE status = 'processing' AND processing_started_at < $1
		RETURNING id;
	`
	rows, err := s.db.Query(ctx, query, olderThan, reason, s.now())
	if err != nil {
		return nil, report.Infrastructure(err, "reap stale requests")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, report.Infrastructure(err, "scan reaped id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, report.Infrastructure(err, "iterate reaped ids")
	}
	return ids, nil
}
