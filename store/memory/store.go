// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ run.Store             = (*Store)(nil)
	_ row.Store             = (*Store)(nil)
	_ call.Store            = (*Store)(nil)
	_ run.MetricIncrementer = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	runs  map[string]*run.Run
	rows  map[string]*row.Row
	calls map[string]*call.Call
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:  make(map[string]*run.Run),
		rows:  make(map[string]*row.Row),
		calls: make(map[string]*call.Call),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle: Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Run Store
// ──────────────────────────────────────────────────

// CreateRun persists a new run.
func (m *Store) CreateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, exists := m.runs[key]; exists {
		return dialrun.ErrRunAlreadyExists
	}
	cp := *r
	m.runs[key] = &cp
	return nil
}

// GetRun retrieves a run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, dialrun.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRun persists changes to an existing run.
func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.runs[key]; !ok {
		return dialrun.ErrRunNotFound
	}
	cp := *r
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = &cp
	return nil
}

// UpdateMetrics writes the run's metrics conditioned on the caller's
// last-seen update timestamp.
func (m *Store) UpdateMetrics(_ context.Context, runID id.RunID, expect time.Time, metrics run.Metrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return dialrun.ErrRunNotFound
	}
	if !r.UpdatedAt.Equal(expect) {
		return dialrun.ErrMetricsConflict
	}
	r.Metrics = metrics
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementMetric atomically adds delta to the counter at path. Implements
// run.MetricIncrementer; the store mutex makes the read-modify-write atomic.
func (m *Store) IncrementMetric(_ context.Context, runID id.RunID, path string, delta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return dialrun.ErrRunNotFound
	}
	r.Metrics.Add(path, delta)
	if path == "calls.calling" && delta > 0 {
		now := time.Now().UTC()
		r.Metrics.LastCallAt = &now
	}
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ListRunsByStatus returns runs in the given status, oldest first.
func (m *Store) ListRunsByStatus(_ context.Context, status run.Status, opts run.ListOpts) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matches := make([]*run.Run, 0)
	for _, r := range m.runs {
		if r.Status != status {
			continue
		}
		if !opts.OrgID.IsNil() && r.OrgID != opts.OrgID {
			continue
		}
		matches = append(matches, r)
	}

	sort.Slice(matches, func(i, k int) bool {
		return matches[i].CreatedAt.Before(matches[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matches) {
			return nil, nil
		}
		matches = matches[opts.Offset:]
	}
	if opts.Limit > 0 && len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}

	result := make([]*run.Run, len(matches))
	for i, r := range matches {
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// ListDueScheduledRuns returns scheduled runs due at or before the instant.
func (m *Store) ListDueScheduledRuns(_ context.Context, before time.Time) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*run.Run, 0)
	for _, r := range m.runs {
		if r.Status != run.StatusScheduled || r.ScheduledAt == nil {
			continue
		}
		if r.ScheduledAt.After(before) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].ScheduledAt.Before(*result[k].ScheduledAt)
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Row Store
// ──────────────────────────────────────────────────

// CreateRows persists a batch of new rows in pending state.
func (m *Store) CreateRows(_ context.Context, rows []*row.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range rows {
		if _, exists := m.rows[r.ID.String()]; exists {
			return dialrun.ErrRowAlreadyExists
		}
	}
	for _, r := range rows {
		cp := *r
		if cp.Status == "" {
			cp.Status = row.StatusPending
		}
		m.rows[r.ID.String()] = &cp
	}
	return nil
}

// GetRow retrieves a row by ID.
func (m *Store) GetRow(_ context.Context, rowID id.RowID) (*row.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rows[rowID.String()]
	if !ok {
		return nil, dialrun.ErrRowNotFound
	}
	cp := *r
	return &cp, nil
}

// UpdateRow persists changes to an existing row.
func (m *Store) UpdateRow(_ context.Context, r *row.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.rows[key]; !ok {
		return dialrun.ErrRowNotFound
	}
	cp := *r
	cp.UpdatedAt = time.Now().UTC()
	m.rows[key] = &cp
	return nil
}

// SelectPending returns up to limit pending rows for the run, ordered by
// priority (descending) then sort index (ascending).
func (m *Store) SelectPending(_ context.Context, runID id.RunID, limit int, exclude []id.RowID) ([]*row.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	excluded := make(map[string]struct{}, len(exclude))
	for _, rid := range exclude {
		excluded[rid.String()] = struct{}{}
	}

	candidates := make([]*row.Row, 0)
	for _, r := range m.rows {
		if r.RunID != runID || r.Status != row.StatusPending {
			continue
		}
		if _, skip := excluded[r.ID.String()]; skip {
			continue
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, k int) bool {
		if candidates[i].Priority != candidates[k].Priority {
			return candidates[i].Priority > candidates[k].Priority
		}
		return candidates[i].SortIndex < candidates[k].SortIndex
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]*row.Row, len(candidates))
	for i, r := range candidates {
		cp := *r
		result[i] = &cp
	}
	return result, nil
}

// ClaimRow atomically transitions the row from pending to calling.
func (m *Store) ClaimRow(_ context.Context, rowID id.RowID, claim row.ClaimInfo) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[rowID.String()]
	if !ok {
		return false, dialrun.ErrRowNotFound
	}
	if r.Status != row.StatusPending {
		return false, nil
	}
	r.Status = row.StatusCalling
	cp := claim
	r.Claim = &cp
	r.UpdatedAt = time.Now().UTC()
	return true, nil
}

// ReleaseRow returns a calling row to pending with a skip reason.
func (m *Store) ReleaseRow(_ context.Context, rowID id.RowID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rows[rowID.String()]
	if !ok {
		return dialrun.ErrRowNotFound
	}
	r.Status = row.StatusPending
	r.Claim = nil
	r.LastSkipReason = reason
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ResetCallingRows returns every calling row in the run to pending.
func (m *Store) ResetCallingRows(_ context.Context, runID id.RunID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.rows {
		if r.RunID != runID || r.Status != row.StatusCalling {
			continue
		}
		m.resetRow(r, reason)
		n++
	}
	return n, nil
}

// ResetStuckRows returns calling rows older than the threshold to pending.
// A nil runID sweeps all runs.
func (m *Store) ResetStuckRows(_ context.Context, runID id.RunID, olderThan time.Duration, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)

	var n int64
	for _, r := range m.rows {
		if r.Status != row.StatusCalling {
			continue
		}
		if !runID.IsNil() && r.RunID != runID {
			continue
		}
		if r.UpdatedAt.After(cutoff) {
			continue
		}
		m.resetRow(r, reason)
		n++
	}
	return n, nil
}

// ResetFailedRows returns the run's failed rows to pending with cleared
// retry counts.
func (m *Store) ResetFailedRows(_ context.Context, runID id.RunID, reason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, r := range m.rows {
		if r.RunID != runID || r.Status != row.StatusFailed {
			continue
		}
		m.resetRow(r, reason)
		r.RetryCount = 0
		r.Error = ""
		n++
	}
	return n, nil
}

// resetRow returns a row to pending. Callers must hold the write lock.
func (m *Store) resetRow(r *row.Row, reason string) {
	r.Status = row.StatusPending
	r.Claim = nil
	r.ResetReason = reason
	r.UpdatedAt = time.Now().UTC()
}

// CountRows returns the number of the run's rows in any of the given
// statuses. No statuses means all rows.
func (m *Store) CountRows(_ context.Context, runID id.RunID, statuses ...row.Status) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[row.Status]struct{}, len(statuses))
	for _, s := range statuses {
		wanted[s] = struct{}{}
	}

	var n int64
	for _, r := range m.rows {
		if r.RunID != runID {
			continue
		}
		if len(wanted) > 0 {
			if _, ok := wanted[r.Status]; !ok {
				continue
			}
		}
		n++
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Call Store
// ──────────────────────────────────────────────────

// CreateCall persists a new call record.
func (m *Store) CreateCall(_ context.Context, c *call.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.ID.String()
	if _, exists := m.calls[key]; exists {
		return dialrun.ErrCallAlreadyExists
	}
	cp := *c
	m.calls[key] = &cp
	return nil
}

// GetCall retrieves a call by ID.
func (m *Store) GetCall(_ context.Context, callID id.CallID) (*call.Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.calls[callID.String()]
	if !ok {
		return nil, dialrun.ErrCallNotFound
	}
	cp := *c
	return &cp, nil
}

// UpdateCall persists changes to an existing call.
func (m *Store) UpdateCall(_ context.Context, c *call.Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := c.ID.String()
	if _, ok := m.calls[key]; !ok {
		return dialrun.ErrCallNotFound
	}
	cp := *c
	cp.UpdatedAt = time.Now().UTC()
	m.calls[key] = &cp
	return nil
}

// CountActiveByOrg returns the number of active calls across the org.
func (m *Store) CountActiveByOrg(_ context.Context, orgID id.OrgID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, c := range m.calls {
		if c.OrgID == orgID && c.Status.Active() {
			n++
		}
	}
	return n, nil
}

// CountActiveByRun returns the number of active calls scoped to one run.
func (m *Store) CountActiveByRun(_ context.Context, runID id.RunID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, c := range m.calls {
		if c.RunID == runID && c.Status.Active() {
			n++
		}
	}
	return n, nil
}
