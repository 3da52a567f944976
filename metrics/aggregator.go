// Package metrics provides the aggregator that turns row outcomes into run
// metric updates. Writes go through the store's atomic increment when the
// backend offers one, and fall back to an optimistic compare-and-set
// otherwise. Every successful write publishes a debounced metrics event so
// dashboards converge without being hammered per call.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/event"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/run"
)

// Aggregator applies counter increments to run metrics and fans out update
// events. Safe for concurrent use by multiple dispatch loops.
type Aggregator struct {
	store  run.Store
	pub    event.Publisher
	logger *slog.Logger
}

// NewAggregator creates an Aggregator. pub may be nil, in which case update
// events are discarded.
func NewAggregator(store run.Store, pub event.Publisher, logger *slog.Logger) *Aggregator {
	if pub == nil {
		pub = event.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: store, pub: pub, logger: logger}
}

// Increment adds delta to the counter at path for the given run.
//
// When the store implements run.MetricIncrementer the write is a single
// atomic operation. Otherwise the aggregator reads the run, applies the
// increment, and writes back conditioned on the run's update timestamp,
// retrying once on conflict. A second conflict is logged and dropped; lost
// increments are tolerated because terminal counters are reconciled from
// row states at completion.
func (a *Aggregator) Increment(ctx context.Context, runID id.RunID, path string, delta int64) error {
	if inc, ok := a.store.(run.MetricIncrementer); ok {
		if err := inc.IncrementMetric(ctx, runID, path, delta); err != nil {
			return err
		}
		a.publishUpdate(ctx, runID, path)
		return nil
	}

	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = a.tryIncrement(ctx, runID, path, delta)
		if err == nil {
			a.publishUpdate(ctx, runID, path)
			return nil
		}
		if !errors.Is(err, dialrun.ErrMetricsConflict) {
			return err
		}
	}

	a.logger.Warn("dropping metric increment after repeated conflicts",
		slog.String("run_id", runID.String()),
		slog.String("path", path),
		slog.Int64("delta", delta),
	)
	return nil
}

func (a *Aggregator) tryIncrement(ctx context.Context, runID id.RunID, path string, delta int64) error {
	r, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	m := r.Metrics
	m.Add(path, delta)
	if path == "calls.calling" && delta > 0 {
		now := time.Now()
		m.LastCallAt = &now
	}
	return a.store.UpdateMetrics(ctx, runID, r.UpdatedAt, m)
}

// Snapshot returns the run's current metrics record.
func (a *Aggregator) Snapshot(ctx context.Context, runID id.RunID) (run.Metrics, error) {
	r, err := a.store.GetRun(ctx, runID)
	if err != nil {
		return run.Metrics{}, err
	}
	return r.Metrics, nil
}

func (a *Aggregator) publishUpdate(ctx context.Context, runID id.RunID, path string) {
	err := a.pub.Publish(ctx, event.ChannelRunPrefix+runID.String(), event.MetricsUpdatedFor(path),
		map[string]string{"run_id": runID.String(), "path": path})
	if err != nil {
		a.logger.Warn("metrics event publish failed",
			slog.String("run_id", runID.String()),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
	}
}
