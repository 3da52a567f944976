package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/id"
)

// CreateCall persists a new call record.
func (s *Store) CreateCall(ctx context.Context, c *call.Call) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dialrun_calls (
			id, org_id, run_id, row_id, patient_id,
			direction, status, to_number, from_number, vendor_call_id,
			analysis, metadata, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14
		)`,
		c.ID.String(), c.OrgID.String(), c.RunID, c.RowID, c.PatientID,
		string(c.Direction), string(c.Status), c.ToNumber, c.FromNumber, c.VendorCallID,
		c.Analysis, c.Metadata, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return dialrun.ErrCallAlreadyExists
		}
		return fmt.Errorf("dialrun/postgres: create call: %w", err)
	}
	return nil
}

// GetCall retrieves a call by ID.
func (s *Store) GetCall(ctx context.Context, callID id.CallID) (*call.Call, error) {
	c, err := scanCall(s.pool.QueryRow(ctx, `
		SELECT
			id, org_id, run_id, row_id, patient_id,
			direction, status, to_number, from_number, vendor_call_id,
			analysis, metadata, created_at, updated_at
		FROM dialrun_calls
		WHERE id = $1`,
		callID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, dialrun.ErrCallNotFound
		}
		return nil, fmt.Errorf("dialrun/postgres: get call: %w", err)
	}
	return c, nil
}

// UpdateCall persists changes to an existing call.
func (s *Store) UpdateCall(ctx context.Context, c *call.Call) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_calls SET
			direction = $2, status = $3, to_number = $4, from_number = $5,
			vendor_call_id = $6, analysis = $7, metadata = $8,
			updated_at = NOW()
		WHERE id = $1`,
		c.ID.String(), string(c.Direction), string(c.Status), c.ToNumber, c.FromNumber,
		c.VendorCallID, c.Analysis, c.Metadata,
	)
	if err != nil {
		return fmt.Errorf("dialrun/postgres: update call: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dialrun.ErrCallNotFound
	}
	return nil
}

// CountActiveByOrg returns the number of active calls across the org.
func (s *Store) CountActiveByOrg(ctx context.Context, orgID id.OrgID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dialrun_calls
		WHERE org_id = $1 AND status IN ('registered', 'ongoing')`,
		orgID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("dialrun/postgres: count active calls by org: %w", err)
	}
	return count, nil
}

// CountActiveByRun returns the number of active calls scoped to one run.
func (s *Store) CountActiveByRun(ctx context.Context, runID id.RunID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM dialrun_calls
		WHERE run_id = $1 AND status IN ('registered', 'ongoing')`,
		runID.String(),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("dialrun/postgres: count active calls by run: %w", err)
	}
	return count, nil
}

// scanCall scans a single call row.
func scanCall(row pgx.Row) (*call.Call, error) {
	var (
		c            call.Call
		idStr        string
		directionStr string
		statusStr    string
	)
	err := row.Scan(
		&idStr, &c.OrgID, &c.RunID, &c.RowID, &c.PatientID,
		&directionStr, &statusStr, &c.ToNumber, &c.FromNumber, &c.VendorCallID,
		&c.Analysis, &c.Metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Direction = call.Direction(directionStr)
	c.Status = call.Status(statusStr)

	parsedID, parseErr := id.ParseCallID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("dialrun/postgres: parse call id %q: %w", idStr, parseErr)
	}
	c.ID = parsedID

	return &c, nil
}
