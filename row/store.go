package row

import (
	"context"
	"time"

	"github.com/xraph/dialrun/id"
)

// Store defines the persistence contract for rows. ClaimRow's conditional
// update is the sole synchronization primitive preventing double-dispatch;
// everything else is plain single-row writes and scoped queries.
type Store interface {
	// CreateRows persists a batch of new rows in pending state.
	CreateRows(ctx context.Context, rows []*Row) error

	// GetRow retrieves a row by ID.
	GetRow(ctx context.Context, rowID id.RowID) (*Row, error)

	// UpdateRow persists changes to an existing row.
	UpdateRow(ctx context.Context, r *Row) error

	// SelectPending returns up to limit pending rows for the run,
	// ordered by priority (descending) then sort index (ascending),
	// excluding the given row ids.
	SelectPending(ctx context.Context, runID id.RunID, limit int, exclude []id.RowID) ([]*Row, error)

	// ClaimRow atomically transitions the row from pending to calling,
	// recording the claim, only if its status is still pending. Returns
	// false when another claimer got there first or the row changed
	// state; the caller must skip it.
	ClaimRow(ctx context.Context, rowID id.RowID, claim ClaimInfo) (bool, error)

	// ReleaseRow returns a calling row to pending with a skip reason,
	// without touching its retry count. Used when a claimed row fails a
	// downstream gate such as the recipient timezone window.
	ReleaseRow(ctx context.Context, rowID id.RowID, reason string) error

	// ResetCallingRows returns every calling row in the run to pending
	// with the given reset reason, regardless of age. Used on run start
	// to recover rows wedged by a previous process.
	ResetCallingRows(ctx context.Context, runID id.RunID, reason string) (int64, error)

	// ResetStuckRows returns calling rows whose last update is older
	// than the threshold to pending with the given reset reason. A nil
	// runID sweeps all runs.
	ResetStuckRows(ctx context.Context, runID id.RunID, olderThan time.Duration, reason string) (int64, error)

	// ResetFailedRows returns the run's failed rows to pending with
	// cleared retry counts and the given reset reason, making them
	// claimable again. Returns the number of rows reset.
	ResetFailedRows(ctx context.Context, runID id.RunID, reason string) (int64, error)

	// CountRows returns the number of the run's rows in any of the
	// given statuses. No statuses means all rows.
	CountRows(ctx context.Context, runID id.RunID, statuses ...Status) (int64, error)
}
