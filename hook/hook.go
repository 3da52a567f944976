// Package hook provides lifecycle hooks for the dispatch engine. Register a
// Hook and implement any subset of the event interfaces; the registry
// type-caches implementations at registration time so emits only touch
// hooks that care.
package hook

import (
	"context"
	"time"

	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
)

// Hook is the base interface every hook implements. Event interfaces are
// opt-in: implement the ones you need.
type Hook interface {
	Name() string
}

// RunStarted is notified when a dispatch loop starts processing a run.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunCompleted is notified when a run's last row resolves.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is notified when a run hits a run-fatal error.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, err error) error
}

// CallDispatched is notified when the telephony vendor accepts a dispatch.
type CallDispatched interface {
	OnCallDispatched(ctx context.Context, rw *row.Row, c *call.Call) error
}

// RowRetrying is notified when a dispatch error requeues a row.
type RowRetrying interface {
	OnRowRetrying(ctx context.Context, rw *row.Row, attempt int) error
}

// RowFailed is notified when a row exhausts its retry budget.
type RowFailed interface {
	OnRowFailed(ctx context.Context, rw *row.Row, err error) error
}

// RowSkipped is notified when a gating check returns a row to pending.
type RowSkipped interface {
	OnRowSkipped(ctx context.Context, rw *row.Row, reason string) error
}

// RowsReaped is notified when the stuck-row reaper resets wedged rows.
type RowsReaped interface {
	OnRowsReaped(ctx context.Context, runID id.RunID, count int64) error
}
