package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/event"
	"github.com/xraph/dialrun/hours"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/middleware"
	"github.com/xraph/dialrun/org"
	"github.com/xraph/dialrun/pacing"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
	"github.com/xraph/dialrun/telephony"
)

// processRun is the dispatch loop for one run. It exits when the run
// completes, fails, leaves the running state, or the loop context is
// cancelled. A panic anywhere in the loop marks the run failed instead of
// crashing the process.
func (e *Engine) processRun(ctx context.Context, runID id.RunID, state *runState) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			e.logger.Error("dispatch loop panicked",
				slog.String("run_id", runID.String()),
				slog.Any("panic", r),
				slog.String("stack", string(stack)),
			)
			e.markRunFailed(context.WithoutCancel(ctx), runID, fmt.Errorf("dispatch loop panic: %v", r), stack)
		}
	}()

	lastReap := time.Now()
	var exclude []id.RowID

	for {
		if ctx.Err() != nil {
			return
		}

		// Reload the run each pass: pauses, completions, and config
		// changes land between batches, not mid-batch.
		r, err := e.store.GetRun(ctx, runID)
		if err != nil {
			e.markRunFailed(context.WithoutCancel(ctx), runID, err, nil)
			return
		}
		if r.Status != run.StatusRunning {
			e.logger.Info("dispatch loop exiting",
				slog.String("run_id", runID.String()),
				slog.String("status", string(r.Status)),
			)
			return
		}

		orgRec, err := e.dir.GetOrganization(ctx, r.OrgID)
		if err != nil {
			e.markRunFailed(context.WithoutCancel(ctx), runID, fmt.Errorf("load organization: %w", err), nil)
			return
		}
		camp, err := e.dir.GetCampaign(ctx, r.CampaignID)
		if err != nil {
			e.markRunFailed(context.WithoutCancel(ctx), runID, fmt.Errorf("load campaign: %w", err), nil)
			return
		}

		if time.Since(lastReap) >= e.cfg.ReaperInterval {
			lastReap = time.Now()
			if n, reapErr := e.store.ResetStuckRows(ctx, runID, e.cfg.StuckRowThreshold, "stuck row reset"); reapErr != nil {
				e.logger.Warn("stuck row sweep failed",
					slog.String("run_id", runID.String()),
					slog.String("error", reapErr.Error()),
				)
			} else if n > 0 {
				e.logger.Warn("reset stuck rows",
					slog.String("run_id", runID.String()),
					slog.Int64("count", n),
				)
				e.hooks.EmitRowsReaped(ctx, runID, n)
			}
		}

		if !hours.Open(orgRec.Timezone, orgRec.OfficeHours, time.Now()) {
			e.logger.Debug("outside office hours",
				slog.String("run_id", runID.String()),
				slog.String("org_id", r.OrgID.String()),
			)
			if r.Metrics.LastHold != holdOutsideHours {
				e.setHold(ctx, r, holdOutsideHours)
			}
			exclude = nil
			if !e.sleep(ctx, e.cfg.OutsideHoursWait) {
				return
			}
			continue
		}
		if r.Metrics.LastHold != "" {
			e.setHold(ctx, r, "")
		}

		orgActive, err := e.store.CountActiveByOrg(ctx, r.OrgID)
		if err != nil {
			e.logger.Warn("active call count failed",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
			if !e.sleep(ctx, e.cfg.IdleWait) {
				return
			}
			continue
		}
		runActive, err := e.store.CountActiveByRun(ctx, runID)
		if err != nil {
			e.logger.Warn("active call count failed",
				slog.String("run_id", runID.String()),
				slog.String("error", err.Error()),
			)
			if !e.sleep(ctx, e.cfg.IdleWait) {
				return
			}
			continue
		}

		slots := pacing.AvailableSlots(orgRec.ConcurrencyLimit, int(orgActive), int(runActive))
		if slots == 0 {
			exclude = nil
			if !e.sleep(ctx, e.cfg.NoCapacityWait) {
				return
			}
			continue
		}

		limit := state.sizer.Size()
		if r.Config.BatchSize > 0 && r.Config.BatchSize < limit {
			limit = r.Config.BatchSize
		}
		if slots < limit {
			limit = slots
		}

		batch, err := e.store.SelectPending(ctx, runID, limit, exclude)
		if err != nil {
			e.markRunFailed(context.WithoutCancel(ctx), runID, fmt.Errorf("select pending rows: %w", err), nil)
			return
		}
		if len(batch) == 0 {
			outstanding, countErr := e.store.CountRows(ctx, runID, row.StatusPending, row.StatusCalling)
			if countErr != nil {
				e.markRunFailed(context.WithoutCancel(ctx), runID, countErr, nil)
				return
			}
			if outstanding == 0 {
				if compErr := e.CompleteRun(ctx, runID); compErr != nil {
					e.logger.Warn("run completion failed",
						slog.String("run_id", runID.String()),
						slog.String("error", compErr.Error()),
					)
				}
				return
			}
			exclude = nil
			if !e.sleep(ctx, e.cfg.IdleWait) {
				return
			}
			continue
		}

		successes, attempts, consecutive := 0, 0, 0
		for _, rw := range batch {
			if ctx.Err() != nil {
				return
			}
			// Office hours can close mid-batch; stop dialing, the
			// outer loop takes the long wait.
			if !hours.Open(orgRec.Timezone, orgRec.OfficeHours, time.Now()) {
				break
			}

			if err := e.limiters.Wait(ctx, runID.String(), e.callsPerMinute(r)); err != nil {
				return
			}

			claimed, claimErr := e.store.ClaimRow(ctx, rw.ID, row.ClaimInfo{
				ClaimedAt:    time.Now().UTC(),
				DispatcherID: e.dispatcherID,
			})
			if claimErr != nil {
				if errors.Is(claimErr, dialrun.ErrRowNotFound) {
					continue
				}
				e.logger.Warn("row claim failed",
					slog.String("row_id", rw.ID.String()),
					slog.String("error", claimErr.Error()),
				)
				continue
			}
			if !claimed {
				// Another dispatcher got there first.
				continue
			}

			outcome := e.dispatchRow(ctx, r, orgRec, camp, rw)
			switch outcome {
			case outcomeDispatched:
				attempts++
				successes++
				consecutive = 0
			case outcomeErrored:
				attempts++
				consecutive++
				exclude = append(exclude, rw.ID)
				if consecutive >= e.cfg.ConsecutiveErrorLimit {
					state.sizer.ForceShrink()
					delay := e.strategy.Delay(consecutive)
					e.logger.Warn("consecutive dispatch errors, backing off",
						slog.String("run_id", runID.String()),
						slog.Int("consecutive", consecutive),
						slog.Duration("delay", delay),
					)
					if !e.sleep(ctx, delay) {
						return
					}
					consecutive = 0
				}
			case outcomeSkipped:
				exclude = append(exclude, rw.ID)
			}
		}

		state.sizer.Observe(successes, attempts)

		if attempts > 0 {
			if !e.sleep(ctx, e.interBatchWait(r, attempts)) {
				return
			}
		}
	}
}

// holdOutsideHours is the persisted marker for a live loop that is waiting
// out the organization's office hours.
const holdOutsideHours = "outside office hours"

// setHold persists the run's hold marker so an operator can see why a live
// loop is not dialing. An empty hold clears the marker.
func (e *Engine) setHold(ctx context.Context, r *run.Run, hold string) {
	m := r.Metrics
	m.LastHold = hold
	if err := e.store.UpdateMetrics(ctx, r.ID, r.UpdatedAt, m); err != nil {
		e.logger.Warn("hold marker update failed",
			slog.String("run_id", r.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	r.Metrics = m
}

// dispatchOutcome classifies what happened to one claimed row.
type dispatchOutcome int

const (
	// outcomeDispatched means the vendor accepted the call.
	outcomeDispatched dispatchOutcome = iota
	// outcomeErrored means the dispatch failed and fed the retry budget.
	outcomeErrored
	// outcomeSkipped means a gate released the row without dialing.
	outcomeSkipped
)

// dispatchRow places one call for a claimed row.
func (e *Engine) dispatchRow(ctx context.Context, r *run.Run, orgRec *org.Organization, camp *org.Campaign, rw *row.Row) dispatchOutcome {
	rw.Status = row.StatusCalling

	if rw.PhoneNumber() == "" {
		// A missing number is a dispatch error like any other: it
		// consumes retry budget and fails terminally at the limit.
		e.handleDispatchError(ctx, r, rw, dialrun.ErrMissingPhoneNumber)
		return outcomeErrored
	}

	if r.Config.RespectPatientTimezone && rw.Timezone() != "" {
		start, end := e.recipientWindow(r)
		ok, err := hours.InRecipientWindow(rw.Timezone(), start, end, time.Now())
		if err != nil {
			// Unresolvable recipient timezone: call anyway rather
			// than strand the row.
			e.logger.Debug("recipient timezone unresolvable",
				slog.String("row_id", rw.ID.String()),
				slog.String("tz", rw.Timezone()),
			)
		} else if !ok {
			if relErr := e.store.ReleaseRow(ctx, rw.ID, "outside recipient hours"); relErr != nil {
				e.logger.Warn("row release failed",
					slog.String("row_id", rw.ID.String()),
					slog.String("error", relErr.Error()),
				)
			}
			e.recordMetric(ctx, r.ID, "calls.skipped")
			e.hooks.EmitRowSkipped(ctx, rw, "outside recipient hours")
			return outcomeSkipped
		}
	}

	req := telephony.Request{
		ToNumber:   rw.PhoneNumber(),
		FromNumber: camp.FromNumber,
		AgentID:    camp.AgentID,
		Variables:  mergeVariables(camp.Variables, rw.Variables),
		Metadata: telephony.Metadata{
			RunID:      r.ID,
			RowID:      rw.ID,
			OrgID:      orgRec.ID,
			CampaignID: camp.ID,
			PatientID:  rw.PatientID,
		},
	}

	var result telephony.Result
	handler := func(hctx context.Context) error {
		res, dispErr := e.disp.Dispatch(hctx, req)
		if dispErr != nil {
			return dispErr
		}
		result = res
		return nil
	}

	err := e.chain(ctx, rw, handler)
	if err != nil {
		e.handleDispatchError(ctx, r, rw, err)
		return outcomeErrored
	}

	rw.CallAttempts++
	rw.VendorCallID = result.CallID
	if updErr := e.store.UpdateRow(ctx, rw); updErr != nil {
		e.logger.Warn("row update failed",
			slog.String("row_id", rw.ID.String()),
			slog.String("error", updErr.Error()),
		)
	}

	c := &call.Call{
		Entity:       dialrun.NewEntity(),
		ID:           id.NewCallID(),
		OrgID:        orgRec.ID,
		RunID:        r.ID,
		RowID:        rw.ID,
		PatientID:    rw.PatientID,
		Direction:    call.DirectionOutbound,
		Status:       call.StatusRegistered,
		ToNumber:     req.ToNumber,
		FromNumber:   req.FromNumber,
		VendorCallID: result.CallID,
	}
	if createErr := e.store.CreateCall(ctx, c); createErr != nil {
		e.logger.Warn("call record create failed",
			slog.String("row_id", rw.ID.String()),
			slog.String("error", createErr.Error()),
		)
	}

	e.recordMetric(ctx, r.ID, "calls.calling")
	e.publish(ctx, r.ID, r.OrgID, event.CallStarted, map[string]any{
		"run_id":  r.ID.String(),
		"row_id":  rw.ID.String(),
		"call_id": c.ID.String(),
	})
	e.hooks.EmitCallDispatched(ctx, rw, c)

	return outcomeDispatched
}

// handleDispatchError feeds a dispatch failure into the row's retry budget.
// The row fails exactly when its retry count reaches the budget; otherwise
// it returns to pending for a later batch.
func (e *Engine) handleDispatchError(ctx context.Context, r *run.Run, rw *row.Row, cause error) {
	rw.CallAttempts++
	rw.RetryCount++
	rw.Error = cause.Error()
	rw.Claim = nil

	if rw.RetryCount >= e.maxRetries(r) {
		rw.Status = row.StatusFailed
		rw.Error = fmt.Sprintf("%s: %s", dialrun.ErrMaxRetriesExceeded.Error(), cause.Error())
		if err := e.store.UpdateRow(ctx, rw); err != nil {
			e.logger.Warn("row update failed",
				slog.String("row_id", rw.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		e.recordMetric(ctx, r.ID, "calls.failed")
		e.hooks.EmitRowFailed(ctx, rw, cause)
		return
	}

	rw.Status = row.StatusPending
	if err := e.store.UpdateRow(ctx, rw); err != nil {
		e.logger.Warn("row update failed",
			slog.String("row_id", rw.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	e.recordMetric(ctx, r.ID, "calls.retried")
	e.hooks.EmitRowRetrying(ctx, rw, rw.RetryCount)
}

// markRunFailed transitions a run to the failed state after a run-fatal
// error. A non-empty stack (from the panic path) is kept on the run's
// metrics record.
func (e *Engine) markRunFailed(ctx context.Context, runID id.RunID, cause error, stack []byte) {
	e.logger.Error("run failed",
		slog.String("run_id", runID.String()),
		slog.String("error", cause.Error()),
	)

	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		e.logger.Error("cannot load run to mark failed",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if r.Status.Terminal() {
		return
	}

	r.Status = run.StatusFailed
	r.Metrics.LastError = cause.Error()
	if len(stack) > 0 {
		r.Metrics.FailureStack = string(stack)
	}
	if err := e.store.UpdateRun(ctx, r); err != nil {
		e.logger.Error("cannot mark run failed",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	e.hooks.EmitRunFailed(ctx, r, cause)
	e.publish(ctx, runID, r.OrgID, event.RunFailed, runPayload(r))
}

// buildChain composes the dispatch middleware: recover outermost, then
// logging, user middleware, and the per-attempt timeout closest to the
// vendor call.
func (e *Engine) buildChain() middleware.Middleware {
	mws := make([]middleware.Middleware, 0, len(e.mws)+3)
	mws = append(mws, middleware.Recover(e.logger), middleware.Logging(e.logger))
	mws = append(mws, e.mws...)
	mws = append(mws, middleware.Timeout(e.cfg.DispatchTimeout))
	return middleware.Chain(mws...)
}

// recordMetric applies a counter increment, logging failures. Metric writes
// never disturb the dispatch path.
func (e *Engine) recordMetric(ctx context.Context, runID id.RunID, path string) {
	if err := e.agg.Increment(ctx, runID, path, 1); err != nil {
		e.logger.Warn("metric increment failed",
			slog.String("run_id", runID.String()),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}

// sleep waits for d or until the context is cancelled. Returns false when
// the loop should exit.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// interBatchWait spreads batches across the run's per-minute rate: one
// inter-call interval per attempted dispatch, capped so a big batch never
// stalls the loop for minutes.
func (e *Engine) interBatchWait(r *run.Run, attempts int) time.Duration {
	cpm := e.callsPerMinute(r)
	if cpm <= 0 {
		return 0
	}
	wait := time.Duration(attempts) * (time.Minute / time.Duration(cpm))
	if wait > e.cfg.MaxInterBatchWait {
		wait = e.cfg.MaxInterBatchWait
	}
	return wait
}

func (e *Engine) callsPerMinute(r *run.Run) int {
	if r.Config.CallsPerMinute > 0 {
		return r.Config.CallsPerMinute
	}
	return e.cfg.DefaultCallsPerMinute
}

func (e *Engine) maxRetries(r *run.Run) int {
	if r.Config.MaxRetries > 0 {
		return r.Config.MaxRetries
	}
	return e.cfg.DefaultMaxRetries
}

func (e *Engine) recipientWindow(r *run.Run) (start, end int) {
	start, end = e.cfg.DefaultCallStartHour, e.cfg.DefaultCallEndHour
	if r.Config.CallStartHour != 0 || r.Config.CallEndHour != 0 {
		start, end = r.Config.CallStartHour, r.Config.CallEndHour
	}
	return start, end
}

// mergeVariables layers row variables over campaign defaults.
func mergeVariables(campaign, rowVars map[string]string) map[string]string {
	if len(campaign) == 0 {
		return rowVars
	}
	merged := make(map[string]string, len(campaign)+len(rowVars))
	for k, v := range campaign {
		merged[k] = v
	}
	for k, v := range rowVars {
		merged[k] = v
	}
	return merged
}
