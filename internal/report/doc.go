// Package report defines the domain types and collaborator contracts shared by
// the report generation pipeline: intake, the request store, the job queue, the
// worker pool and download issuance.
package report
