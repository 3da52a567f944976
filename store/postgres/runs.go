package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/run"
)

// CreateRun persists a new run.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dialrun_runs (
			id, org_id, campaign_id, name, status, scheduled_at,
			config, metrics, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10
		)`,
		r.ID.String(), r.OrgID, r.CampaignID, r.Name, string(r.Status), r.ScheduledAt,
		r.Config, r.Metrics, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return dialrun.ErrRunAlreadyExists
		}
		return fmt.Errorf("dialrun/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT
			id, org_id, campaign_id, name, status, scheduled_at,
			config, metrics, created_at, updated_at
		FROM dialrun_runs
		WHERE id = $1`,
		runID.String(),
	)

	r, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, dialrun.ErrRunNotFound
		}
		return nil, fmt.Errorf("dialrun/postgres: get run: %w", err)
	}
	return r, nil
}

// UpdateRun persists changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, r *run.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_runs SET
			org_id = $2, campaign_id = $3, name = $4, status = $5,
			scheduled_at = $6, config = $7, metrics = $8,
			updated_at = NOW()
		WHERE id = $1`,
		r.ID.String(), r.OrgID, r.CampaignID, r.Name, string(r.Status),
		r.ScheduledAt, r.Config, r.Metrics,
	)
	if err != nil {
		return fmt.Errorf("dialrun/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dialrun.ErrRunNotFound
	}
	return nil
}

// UpdateMetrics writes the run's metrics conditioned on the caller's
// last-seen update timestamp. The condition turns concurrent writers into
// ErrMetricsConflict instead of silent lost updates.
func (s *Store) UpdateMetrics(ctx context.Context, runID id.RunID, expect time.Time, m run.Metrics) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE dialrun_runs SET metrics = $3, updated_at = NOW()
		WHERE id = $1 AND updated_at = $2`,
		runID.String(), expect, m,
	)
	if err != nil {
		return fmt.Errorf("dialrun/postgres: update metrics: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the run moved on or it never existed.
		var exists bool
		if chkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM dialrun_runs WHERE id = $1)`,
			runID.String(),
		).Scan(&exists); chkErr != nil {
			return fmt.Errorf("dialrun/postgres: update metrics: %w", chkErr)
		}
		if !exists {
			return dialrun.ErrRunNotFound
		}
		return dialrun.ErrMetricsConflict
	}
	return nil
}

// IncrementMetric atomically adds delta to the counter at path using a
// single jsonb update. Implements run.MetricIncrementer, letting the
// aggregator skip the optimistic read-modify-write loop.
func (s *Store) IncrementMetric(ctx context.Context, runID id.RunID, path string, delta int64) error {
	segments := metricSegments(path)

	query := `
		UPDATE dialrun_runs SET
			metrics = jsonb_set(
				metrics, $2::text[],
				to_jsonb(COALESCE((metrics #>> $2::text[])::bigint, 0) + $3),
				true
			),
			updated_at = NOW()
		WHERE id = $1`
	if path == "calls.calling" && delta > 0 {
		query = `
			UPDATE dialrun_runs SET
				metrics = jsonb_set(
					jsonb_set(
						metrics, $2::text[],
						to_jsonb(COALESCE((metrics #>> $2::text[])::bigint, 0) + $3),
						true
					),
					'{last_call_at}', to_jsonb(NOW()), true
				),
				updated_at = NOW()
			WHERE id = $1`
	}

	tag, err := s.pool.Exec(ctx, query, runID.String(), segments, delta)
	if err != nil {
		return fmt.Errorf("dialrun/postgres: increment metric: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dialrun.ErrRunNotFound
	}
	return nil
}

// metricSegments maps a counter dot path to its jsonb location. Typed
// counters live at their nested path; unknown paths land under extra with
// the full dotted key, mirroring run.Metrics.Add.
func metricSegments(path string) []string {
	var m run.Metrics
	if m.Counter(path) != nil {
		if rest, ok := strings.CutPrefix(path, "calls."); ok {
			return []string{"calls", rest}
		}
	}
	return []string{"extra", path}
}

// ListRunsByStatus returns runs matching the given status, oldest first.
func (s *Store) ListRunsByStatus(ctx context.Context, status run.Status, opts run.ListOpts) ([]*run.Run, error) {
	query := `
		SELECT
			id, org_id, campaign_id, name, status, scheduled_at,
			config, metrics, created_at, updated_at
		FROM dialrun_runs
		WHERE status = $1`
	args := []interface{}{string(status)}
	argIdx := 2

	if !opts.OrgID.IsNil() {
		query += fmt.Sprintf(" AND org_id = $%d", argIdx)
		args = append(args, opts.OrgID.String())
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dialrun/postgres: list runs by status: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// ListDueScheduledRuns returns scheduled runs due at or before the instant.
func (s *Store) ListDueScheduledRuns(ctx context.Context, before time.Time) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT
			id, org_id, campaign_id, name, status, scheduled_at,
			config, metrics, created_at, updated_at
		FROM dialrun_runs
		WHERE status = 'scheduled'
		  AND scheduled_at IS NOT NULL
		  AND scheduled_at <= $1
		ORDER BY scheduled_at ASC`,
		before,
	)
	if err != nil {
		return nil, fmt.Errorf("dialrun/postgres: list due scheduled runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// scanRun scans a single run row.
func scanRun(row pgx.Row) (*run.Run, error) {
	var (
		r         run.Run
		idStr     string
		statusStr string
	)
	err := row.Scan(
		&idStr, &r.OrgID, &r.CampaignID, &r.Name, &statusStr, &r.ScheduledAt,
		&r.Config, &r.Metrics, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = run.Status(statusStr)

	parsedID, parseErr := id.ParseRunID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("dialrun/postgres: parse run id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	return &r, nil
}

// collectRuns collects all runs from query rows.
func collectRuns(rows pgx.Rows) ([]*run.Run, error) {
	var runs []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("dialrun/postgres: scan run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dialrun/postgres: iterate run rows: %w", err)
	}
	return runs, nil
}
