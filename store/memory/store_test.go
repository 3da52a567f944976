package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
	"github.com/xraph/dialrun/store/memory"
)

func newTestRun() *run.Run {
	return &run.Run{
		Entity:     dialrun.NewEntity(),
		ID:         id.NewRunID(),
		OrgID:      id.NewOrgID(),
		CampaignID: id.NewCampaignID(),
		Name:       "test run",
		Status:     run.StatusDraft,
		Metrics:    run.NewMetrics(),
	}
}

func newTestRow(runID id.RunID, sortIndex int) *row.Row {
	return &row.Row{
		Entity:    dialrun.NewEntity(),
		ID:        id.NewRowID(),
		RunID:     runID,
		SortIndex: sortIndex,
		Status:    row.StatusPending,
		Variables: map[string]string{row.VarPhone: "+15550001111"},
	}
}

func TestRunCRUD(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	r := newTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, r); !errors.Is(err, dialrun.ErrRunAlreadyExists) {
		t.Errorf("duplicate CreateRun err = %v, want ErrRunAlreadyExists", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Name != "test run" {
		t.Errorf("Name = %q, want %q", got.Name, "test run")
	}

	got.Status = run.StatusRunning
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}
	got, err = s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun after update: %v", err)
	}
	if got.Status != run.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, run.StatusRunning)
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, dialrun.ErrRunNotFound) {
		t.Errorf("GetRun missing err = %v, want ErrRunNotFound", err)
	}
}

func TestUpdateMetricsConflict(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	r := newTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	fresh, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}

	m := fresh.Metrics
	m.Add("calls.completed", 1)
	if err := s.UpdateMetrics(ctx, r.ID, fresh.UpdatedAt, m); err != nil {
		t.Fatalf("UpdateMetrics: %v", err)
	}

	// Second write against the stale timestamp must conflict.
	m.Add("calls.completed", 1)
	err = s.UpdateMetrics(ctx, r.ID, fresh.UpdatedAt, m)
	if !errors.Is(err, dialrun.ErrMetricsConflict) {
		t.Errorf("stale UpdateMetrics err = %v, want ErrMetricsConflict", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Metrics.Calls.Completed != 1 {
		t.Errorf("Calls.Completed = %d, want 1", got.Metrics.Calls.Completed)
	}
}

func TestIncrementMetric(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	r := newTestRun()
	if err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.IncrementMetric(ctx, r.ID, "calls.calling", 1)
		}()
	}
	wg.Wait()

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Metrics.Calls.Calling != 50 {
		t.Errorf("Calls.Calling = %d, want 50", got.Metrics.Calls.Calling)
	}
	if got.Metrics.LastCallAt == nil {
		t.Error("LastCallAt not stamped")
	}

	// Unknown paths accumulate in Extra.
	if err := s.IncrementMetric(ctx, r.ID, "vendor.webhooks", 3); err != nil {
		t.Fatalf("IncrementMetric extra: %v", err)
	}
	got, _ = s.GetRun(ctx, r.ID)
	if got.Metrics.Extra["vendor.webhooks"] != 3 {
		t.Errorf("Extra[vendor.webhooks] = %d, want 3", got.Metrics.Extra["vendor.webhooks"])
	}
}

func TestListDueScheduledRuns(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := newTestRun()
	due.Status = run.StatusScheduled
	due.ScheduledAt = &past

	notDue := newTestRun()
	notDue.Status = run.StatusScheduled
	notDue.ScheduledAt = &future

	for _, r := range []*run.Run{due, notDue} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	got, err := s.ListDueScheduledRuns(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListDueScheduledRuns: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("got %d due runs, want exactly the past-due one", len(got))
	}
}

func TestSelectPendingOrderAndExclude(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	runID := id.NewRunID()
	low := newTestRow(runID, 0)
	high := newTestRow(runID, 5)
	high.Priority = 10
	mid := newTestRow(runID, 2)

	if err := s.CreateRows(ctx, []*row.Row{low, high, mid}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}

	got, err := s.SelectPending(ctx, runID, 10, nil)
	if err != nil {
		t.Fatalf("SelectPending: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Priority descending first, then sort index ascending.
	if got[0].ID != high.ID || got[1].ID != low.ID || got[2].ID != mid.ID {
		t.Errorf("order = [%s %s %s], want [high low mid]",
			got[0].ID, got[1].ID, got[2].ID)
	}

	got, err = s.SelectPending(ctx, runID, 10, []id.RowID{high.ID, low.ID})
	if err != nil {
		t.Fatalf("SelectPending with exclude: %v", err)
	}
	if len(got) != 1 || got[0].ID != mid.ID {
		t.Fatalf("exclude: got %d rows, want just mid", len(got))
	}

	got, err = s.SelectPending(ctx, runID, 2, nil)
	if err != nil {
		t.Fatalf("SelectPending with limit: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("limit: len = %d, want 2", len(got))
	}
}

func TestClaimRowExclusive(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	runID := id.NewRunID()
	r := newTestRow(runID, 0)
	if err := s.CreateRows(ctx, []*row.Row{r}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}

	const claimers = 20
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for range claimers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimRow(ctx, r.ID, row.ClaimInfo{
				ClaimedAt:    time.Now(),
				DispatcherID: id.NewDispatcherID(),
			})
			if err != nil {
				t.Errorf("ClaimRow: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Errorf("claim winners = %d, want exactly 1", won)
	}

	got, err := s.GetRow(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != row.StatusCalling {
		t.Errorf("Status = %q, want %q", got.Status, row.StatusCalling)
	}
	if got.Claim == nil {
		t.Error("Claim not recorded")
	}
}

func TestResetStuckRows(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	runID := id.NewRunID()
	stuck := newTestRow(runID, 0)
	fresh := newTestRow(runID, 1)
	if err := s.CreateRows(ctx, []*row.Row{stuck, fresh}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}
	for _, r := range []*row.Row{stuck, fresh} {
		if _, err := s.ClaimRow(ctx, r.ID, row.ClaimInfo{ClaimedAt: time.Now()}); err != nil {
			t.Fatalf("ClaimRow: %v", err)
		}
	}

	// A large threshold catches nothing; a zero threshold catches every
	// calling row.
	n, err := s.ResetStuckRows(ctx, runID, 24*time.Hour, "stuck row reset")
	if err != nil {
		t.Fatalf("ResetStuckRows: %v", err)
	}
	if n != 0 {
		t.Errorf("reset count with large threshold = %d, want 0", n)
	}

	n, err = s.ResetStuckRows(ctx, runID, 0, "stuck row reset")
	if err != nil {
		t.Fatalf("ResetStuckRows: %v", err)
	}
	if n != 2 {
		t.Errorf("reset count with zero threshold = %d, want 2", n)
	}

	got, err := s.GetRow(ctx, stuck.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != row.StatusPending {
		t.Errorf("Status = %q, want %q", got.Status, row.StatusPending)
	}
	if got.ResetReason != "stuck row reset" {
		t.Errorf("ResetReason = %q, want %q", got.ResetReason, "stuck row reset")
	}
}

func TestResetFailedRowsClearsRetries(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	runID := id.NewRunID()
	failed := newTestRow(runID, 0)
	failed.Status = row.StatusFailed
	failed.RetryCount = 3
	failed.Error = "vendor rejected"
	done := newTestRow(runID, 1)
	done.Status = row.StatusCompleted

	if err := s.CreateRows(ctx, []*row.Row{failed, done}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}

	n, err := s.ResetFailedRows(ctx, runID, "replay requested")
	if err != nil {
		t.Fatalf("ResetFailedRows: %v", err)
	}
	if n != 1 {
		t.Errorf("reset count = %d, want 1", n)
	}

	got, err := s.GetRow(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetRow: %v", err)
	}
	if got.Status != row.StatusPending || got.RetryCount != 0 || got.Error != "" {
		t.Errorf("row = {%s retry=%d err=%q}, want pending with cleared retries",
			got.Status, got.RetryCount, got.Error)
	}
}

func TestCountRows(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	runID := id.NewRunID()
	a := newTestRow(runID, 0)
	b := newTestRow(runID, 1)
	b.Status = row.StatusCompleted
	c := newTestRow(runID, 2)
	c.Status = row.StatusFailed
	other := newTestRow(id.NewRunID(), 0)

	if err := s.CreateRows(ctx, []*row.Row{a, b, c, other}); err != nil {
		t.Fatalf("CreateRows: %v", err)
	}

	total, err := s.CountRows(ctx, runID)
	if err != nil {
		t.Fatalf("CountRows: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}

	outstanding, err := s.CountRows(ctx, runID, row.StatusPending, row.StatusCalling)
	if err != nil {
		t.Fatalf("CountRows outstanding: %v", err)
	}
	if outstanding != 1 {
		t.Errorf("outstanding = %d, want 1", outstanding)
	}
}

func TestCountActiveCalls(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	orgID := id.NewOrgID()
	runID := id.NewRunID()

	mkCall := func(status call.Status, rid id.RunID) *call.Call {
		return &call.Call{
			Entity:    dialrun.NewEntity(),
			ID:        id.NewCallID(),
			OrgID:     orgID,
			RunID:     rid,
			Direction: call.DirectionOutbound,
			Status:    status,
			ToNumber:  "+15550001111",
		}
	}

	for _, c := range []*call.Call{
		mkCall(call.StatusRegistered, runID),
		mkCall(call.StatusOngoing, runID),
		mkCall(call.StatusEnded, runID),
		mkCall(call.StatusOngoing, id.NewRunID()),
	} {
		if err := s.CreateCall(ctx, c); err != nil {
			t.Fatalf("CreateCall: %v", err)
		}
	}

	orgActive, err := s.CountActiveByOrg(ctx, orgID)
	if err != nil {
		t.Fatalf("CountActiveByOrg: %v", err)
	}
	if orgActive != 3 {
		t.Errorf("org active = %d, want 3", orgActive)
	}

	runActive, err := s.CountActiveByRun(ctx, runID)
	if err != nil {
		t.Fatalf("CountActiveByRun: %v", err)
	}
	if runActive != 2 {
		t.Errorf("run active = %d, want 2", runActive)
	}
}
