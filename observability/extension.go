// Package observability provides a ready-made hook that exports run and row
// lifecycle counters through OpenTelemetry.
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/hook"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
)

const meterName = "github.com/xraph/dialrun/observability"

// Compile-time interface checks.
var (
	_ hook.Hook           = (*MetricsHook)(nil)
	_ hook.RunStarted     = (*MetricsHook)(nil)
	_ hook.RunCompleted   = (*MetricsHook)(nil)
	_ hook.RunFailed      = (*MetricsHook)(nil)
	_ hook.CallDispatched = (*MetricsHook)(nil)
	_ hook.RowRetrying    = (*MetricsHook)(nil)
	_ hook.RowFailed      = (*MetricsHook)(nil)
	_ hook.RowSkipped     = (*MetricsHook)(nil)
	_ hook.RowsReaped     = (*MetricsHook)(nil)
)

// MetricsHook records engine-wide lifecycle counters. Register it on the
// engine to automatically track run starts, completions, failures, dispatch
// volume, retries, skips, and reaper activity across all runs.
type MetricsHook struct {
	runsStarted     metric.Int64Counter
	runsCompleted   metric.Int64Counter
	runsFailed      metric.Int64Counter
	callsDispatched metric.Int64Counter
	rowsRetried     metric.Int64Counter
	rowsFailed      metric.Int64Counter
	rowsSkipped     metric.Int64Counter
	rowsReaped      metric.Int64Counter
	runDuration     metric.Float64Histogram
}

// NewMetricsHook creates a MetricsHook using the global MeterProvider.
func NewMetricsHook() *MetricsHook {
	return NewMetricsHookWithMeter(otel.Meter(meterName))
}

// NewMetricsHookWithMeter creates a MetricsHook with the provided meter.
// Use this to inject a test MeterProvider or a non-global one.
func NewMetricsHookWithMeter(meter metric.Meter) *MetricsHook {
	h := &MetricsHook{}
	h.runsStarted, _ = meter.Int64Counter("dialrun.run.started",
		metric.WithDescription("Total number of run starts, including restarts"))
	h.runsCompleted, _ = meter.Int64Counter("dialrun.run.completed",
		metric.WithDescription("Total number of runs that completed"))
	h.runsFailed, _ = meter.Int64Counter("dialrun.run.failed",
		metric.WithDescription("Total number of runs that hit a run-fatal error"))
	h.callsDispatched, _ = meter.Int64Counter("dialrun.call.dispatched",
		metric.WithDescription("Total number of calls accepted by the telephony vendor"))
	h.rowsRetried, _ = meter.Int64Counter("dialrun.row.retried",
		metric.WithDescription("Total number of row dispatch retries"))
	h.rowsFailed, _ = meter.Int64Counter("dialrun.row.failed",
		metric.WithDescription("Total number of rows that exhausted their retry budget"))
	h.rowsSkipped, _ = meter.Int64Counter("dialrun.row.skipped",
		metric.WithDescription("Total number of rows returned to pending by gating checks"))
	h.rowsReaped, _ = meter.Int64Counter("dialrun.row.reaped",
		metric.WithDescription("Total number of stuck rows reset by the reaper"))
	h.runDuration, _ = meter.Float64Histogram("dialrun.run.duration",
		metric.WithDescription("Elapsed wall time of completed runs in seconds"),
		metric.WithUnit("s"))
	return h
}

// Name implements hook.Hook.
func (h *MetricsHook) Name() string { return "observability-metrics" }

// OnRunStarted implements hook.RunStarted.
func (h *MetricsHook) OnRunStarted(ctx context.Context, _ *run.Run) error {
	h.runsStarted.Add(ctx, 1)
	return nil
}

// OnRunCompleted implements hook.RunCompleted.
func (h *MetricsHook) OnRunCompleted(ctx context.Context, _ *run.Run, elapsed time.Duration) error {
	h.runsCompleted.Add(ctx, 1)
	h.runDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnRunFailed implements hook.RunFailed.
func (h *MetricsHook) OnRunFailed(ctx context.Context, _ *run.Run, _ error) error {
	h.runsFailed.Add(ctx, 1)
	return nil
}

// OnCallDispatched implements hook.CallDispatched.
func (h *MetricsHook) OnCallDispatched(ctx context.Context, _ *row.Row, _ *call.Call) error {
	h.callsDispatched.Add(ctx, 1)
	return nil
}

// OnRowRetrying implements hook.RowRetrying.
func (h *MetricsHook) OnRowRetrying(ctx context.Context, _ *row.Row, _ int) error {
	h.rowsRetried.Add(ctx, 1)
	return nil
}

// OnRowFailed implements hook.RowFailed.
func (h *MetricsHook) OnRowFailed(ctx context.Context, _ *row.Row, _ error) error {
	h.rowsFailed.Add(ctx, 1)
	return nil
}

// OnRowSkipped implements hook.RowSkipped.
func (h *MetricsHook) OnRowSkipped(ctx context.Context, _ *row.Row, _ string) error {
	h.rowsSkipped.Add(ctx, 1)
	return nil
}

// OnRowsReaped implements hook.RowsReaped.
func (h *MetricsHook) OnRowsReaped(ctx context.Context, _ id.RunID, count int64) error {
	h.rowsReaped.Add(ctx, count)
	return nil
}
