// Package store declares interfaces for persisting scan run history.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the scan_runs status column.
type RunStatus string

// Run statuses persisted in scan_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunKind distinguishes what triggered a run.
type RunKind string

// Run kinds.
const (
	KindScheduled RunKind = "scheduled"
	KindOnDemand  RunKind = "on_demand"
	KindReaper    RunKind = "reaper"
)

// Run models the scan_runs table for API responses.
type Run struct {
	// ID is the durable run identifier shared with the step log.
	ID string
	// Kind records the trigger type.
	Kind RunKind
	// Source is the scanned source, or empty for on-demand and reaper runs.
	Source string
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// NewItems counts results inserted by the run.
	NewItems int64
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// RunRepository persists run lifecycle records.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently keeps) the run start.
	UpsertRunStart(ctx context.Context, id string, kind RunKind, source string, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(
		ctx context.Context,
		id string,
		finishedAt time.Time,
		status RunStatus,
		newItems int64,
		errMsg *string,
	) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns runs filtered by optional status plus limit/offset, newest first.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
}
