package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
)

// CreateRows persists a batch of new rows in a single transaction.
func (s *Store) CreateRows(ctx context.Context, rows []*row.Row) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		status := r.Status
		if status == "" {
			status = row.StatusPending
		}
		var claimedAt *time.Time
		var dispatcherID id.DispatcherID
		if r.Claim != nil {
			claimedAt = &r.Claim.ClaimedAt
			dispatcherID = r.Claim.DispatcherID
		}
		batch.Queue(`
			INSERT INTO dialrun_rows (
				id, run_id, patient_id, sort_index, priority, status,
				variables, retry_count, call_attempts, vendor_call_id, error,
				claimed_at, dispatcher_id, last_skip_reason, reset_reason,
				created_at, updated_at
			) VALUES (
				$1, $2, $3, $4, $5, $6,
				$7, $8, $9, $10, $11,
				$12, $13, $14, $15,
				$16, $17
			)`,
			r.ID.String(), r.RunID.String(), r.PatientID, r.SortIndex, r.Priority, string(status),
			r.Variables, r.RetryCount, r.CallAttempts, r.VendorCallID, r.Error,
			claimedAt, dispatcherID, r.LastSkipReason, r.ResetReason,
			r.CreatedAt, r.UpdatedAt,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			if isDuplicateKey(err) {
				return dialrun.ErrRowAlreadyExists
			}
			return fmt.Errorf("dialrun/postgres: create rows: %w", err)
		}
	}
	return nil
}

// GetRow retrieves a row by ID.
func (s *Store) GetRow(ctx context.Context, rowID id.RowID) (*row.Row, error) {
	r, err := scanRow(s.pool.QueryRow(ctx,
		`SELECT `+rowColumns+` FROM dialrun_rows WHERE id = $1`,
		rowID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, dialrun.ErrRowNotFound
		}
		return nil, fmt.Errorf("dialrun/postgres: get row: %w", err)
	}
	return r, nil
}

// UpdateRow persists changes to an existing row.
func (s *Store) UpdateRow(ctx context.Context, r *row.Row) error {
	var claimedAt *time.Time
	var dispatcherID id.DispatcherID
	if r.Claim != nil {
		claimedAt = &r.Claim.ClaimedAt
		dispatcherID = r.Claim.DispatcherID
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_rows SET
			sort_index = $2, priority = $3, status = $4, variables = $5,
			retry_count = $6, call_attempts = $7, vendor_call_id = $8,
			error = $9, claimed_at = $10, dispatcher_id = $11,
			last_skip_reason = $12, reset_reason = $13,
			updated_at = NOW()
		WHERE id = $1`,
		r.ID.String(), r.SortIndex, r.Priority, string(r.Status), r.Variables,
		r.RetryCount, r.CallAttempts, r.VendorCallID,
		r.Error, claimedAt, dispatcherID,
		r.LastSkipReason, r.ResetReason,
	)
	if err != nil {
		return fmt.Errorf("dialrun/postgres: update row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dialrun.ErrRowNotFound
	}
	return nil
}

// SelectPending returns up to limit pending rows for the run, ordered by
// priority (descending) then sort index (ascending).
func (s *Store) SelectPending(ctx context.Context, runID id.RunID, limit int, exclude []id.RowID) ([]*row.Row, error) {
	excluded := make([]string, len(exclude))
	for i, rid := range exclude {
		excluded[i] = rid.String()
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+rowColumns+`
		FROM dialrun_rows
		WHERE run_id = $1
		  AND status = 'pending'
		  AND NOT (id = ANY($2))
		ORDER BY priority DESC, sort_index ASC
		LIMIT $3`,
		runID.String(), excluded, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("dialrun/postgres: select pending rows: %w", err)
	}
	defer rows.Close()

	return collectRows(rows)
}

// ClaimRow atomically transitions the row from pending to calling. The
// status predicate makes the claim exclusive across concurrent dispatchers.
func (s *Store) ClaimRow(ctx context.Context, rowID id.RowID, claim row.ClaimInfo) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_rows SET
			status = 'calling', claimed_at = $2, dispatcher_id = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`,
		rowID.String(), claim.ClaimedAt, claim.DispatcherID,
	)
	if err != nil {
		return false, fmt.Errorf("dialrun/postgres: claim row: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Lost the race or the row is gone. Tell those apart for the caller.
	var exists bool
	if chkErr := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM dialrun_rows WHERE id = $1)`,
		rowID.String(),
	).Scan(&exists); chkErr != nil {
		return false, fmt.Errorf("dialrun/postgres: claim row: %w", chkErr)
	}
	if !exists {
		return false, dialrun.ErrRowNotFound
	}
	return false, nil
}

// ReleaseRow returns a calling row to pending with a skip reason.
func (s *Store) ReleaseRow(ctx context.Context, rowID id.RowID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_rows SET
			status = 'pending', claimed_at = NULL, dispatcher_id = NULL,
			last_skip_reason = $2, updated_at = NOW()
		WHERE id = $1`,
		rowID.String(), reason,
	)
	if err != nil {
		return fmt.Errorf("dialrun/postgres: release row: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dialrun.ErrRowNotFound
	}
	return nil
}

// ResetCallingRows returns every calling row in the run to pending.
func (s *Store) ResetCallingRows(ctx context.Context, runID id.RunID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_rows SET
			status = 'pending', claimed_at = NULL, dispatcher_id = NULL,
			reset_reason = $2, updated_at = NOW()
		WHERE run_id = $1 AND status = 'calling'`,
		runID.String(), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("dialrun/postgres: reset calling rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetStuckRows returns calling rows whose last update is older than the
// threshold to pending. A nil runID sweeps all runs.
func (s *Store) ResetStuckRows(ctx context.Context, runID id.RunID, olderThan time.Duration, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_rows SET
			status = 'pending', claimed_at = NULL, dispatcher_id = NULL,
			reset_reason = $3, updated_at = NOW()
		WHERE status = 'calling'
		  AND ($1 = '' OR run_id = $1)
		  AND updated_at < NOW() - $2::interval`,
		runID.String(), olderThan.String(), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("dialrun/postgres: reset stuck rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResetFailedRows returns the run's failed rows to pending with cleared
// retry counts.
func (s *Store) ResetFailedRows(ctx context.Context, runID id.RunID, reason string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_rows SET
			status = 'pending', claimed_at = NULL, dispatcher_id = NULL,
			retry_count = 0, error = '', reset_reason = $2, updated_at = NOW()
		WHERE run_id = $1 AND status = 'failed'`,
		runID.String(), reason,
	)
	if err != nil {
		return 0, fmt.Errorf("dialrun/postgres: reset failed rows: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountRows returns the number of the run's rows in any of the given
// statuses. No statuses means all rows.
func (s *Store) CountRows(ctx context.Context, runID id.RunID, statuses ...row.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM dialrun_rows WHERE run_id = $1`
	args := []interface{}{runID.String()}

	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, strs)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("dialrun/postgres: count rows: %w", err)
	}
	return count, nil
}

const rowColumns = `
	id, run_id, patient_id, sort_index, priority, status,
	variables, retry_count, call_attempts, vendor_call_id, error,
	claimed_at, dispatcher_id, last_skip_reason, reset_reason,
	created_at, updated_at`

// scanRow scans a single row record.
func scanRow(rec pgx.Row) (*row.Row, error) {
	var (
		r         row.Row
		idStr     string
		runStr    string
		statusStr string
		claimedAt *time.Time
		dspID     id.DispatcherID
	)
	err := rec.Scan(
		&idStr, &runStr, &r.PatientID, &r.SortIndex, &r.Priority, &statusStr,
		&r.Variables, &r.RetryCount, &r.CallAttempts, &r.VendorCallID, &r.Error,
		&claimedAt, &dspID, &r.LastSkipReason, &r.ResetReason,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = row.Status(statusStr)
	if claimedAt != nil {
		r.Claim = &row.ClaimInfo{ClaimedAt: *claimedAt, DispatcherID: dspID}
	}

	parsedID, parseErr := id.ParseRowID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("dialrun/postgres: parse row id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	parsedRun, runErr := id.ParseRunID(runStr)
	if runErr != nil {
		return nil, fmt.Errorf("dialrun/postgres: parse run id %q: %w", runStr, runErr)
	}
	r.RunID = parsedRun

	return &r, nil
}

// collectRows collects all row records from query rows.
func collectRows(rows pgx.Rows) ([]*row.Row, error) {
	var result []*row.Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("dialrun/postgres: scan row record: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialrun/postgres: iterate row records: %w", err)
	}
	return result, nil
}
