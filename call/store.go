package call

import (
	"context"

	"github.com/xraph/dialrun/id"
)

// Store defines the persistence contract for call records.
//
// The active-count queries must be read fresh on every dispatch iteration:
// concurrent runs mutate them, and the slot allocator's org-wide budget is
// only honest if nothing caches these values.
type Store interface {
	// CreateCall persists a new call record.
	CreateCall(ctx context.Context, c *Call) error

	// GetCall retrieves a call by ID.
	GetCall(ctx context.Context, callID id.CallID) (*Call, error)

	// UpdateCall persists changes to an existing call. Webhook
	// collaborators use this to record vendor outcomes.
	UpdateCall(ctx context.Context, c *Call) error

	// CountActiveByOrg returns the number of active calls across the
	// whole organization, runs and ad hoc calls alike.
	CountActiveByOrg(ctx context.Context, orgID id.OrgID) (int64, error)

	// CountActiveByRun returns the number of active calls scoped to
	// one run.
	CountActiveByRun(ctx context.Context, runID id.RunID) (int64, error)
}
