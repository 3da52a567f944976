package run

import (
	"context"
	"time"

	"github.com/xraph/dialrun/id"
)

// ListOpts controls pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// OrgID filters by organization. Nil means all organizations.
	OrgID id.OrgID
}

// Store defines the persistence contract for runs.
type Store interface {
	// CreateRun persists a new run in draft state.
	CreateRun(ctx context.Context, r *Run) error

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists changes to an existing run.
	UpdateRun(ctx context.Context, r *Run) error

	// UpdateMetrics writes the run's metrics record conditioned on the
	// run's last-seen update timestamp. Returns ErrMetricsConflict when
	// another writer updated the run concurrently.
	UpdateMetrics(ctx context.Context, runID id.RunID, expect time.Time, m Metrics) error

	// ListRunsByStatus returns runs in the given status.
	ListRunsByStatus(ctx context.Context, status Status, opts ListOpts) ([]*Run, error)

	// ListDueScheduledRuns returns scheduled runs whose activation time
	// is at or before the given instant. Used by the recovery sweep.
	ListDueScheduledRuns(ctx context.Context, before time.Time) ([]*Run, error)
}

// MetricIncrementer is an optional store capability: a single atomic
// "increment counter at path" operation. Backends that support it (e.g.
// an atomic JSON field increment) let the aggregator skip the optimistic
// read-modify-write loop entirely.
type MetricIncrementer interface {
	IncrementMetric(ctx context.Context, runID id.RunID, path string, delta int64) error
}
