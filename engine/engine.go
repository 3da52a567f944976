// Package engine implements the run dispatch engine: per-run dispatch
// loops that claim rows, gate them on office hours and recipient windows,
// pace them against the org concurrency ceiling, and place calls through a
// telephony dispatcher.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/backoff"
	"github.com/xraph/dialrun/event"
	"github.com/xraph/dialrun/hook"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/metrics"
	"github.com/xraph/dialrun/middleware"
	"github.com/xraph/dialrun/org"
	"github.com/xraph/dialrun/pacing"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
	"github.com/xraph/dialrun/store"
	"github.com/xraph/dialrun/telephony"
)

// Engine owns the dispatch loops. One Engine serves many concurrent runs;
// each started run gets its own goroutine and adaptive batch sizer.
type Engine struct {
	store  store.Store
	dir    org.Directory
	disp   telephony.Dispatcher
	cfg    dialrun.Config
	logger *slog.Logger

	pub      event.Publisher
	debounce *event.Debouncer
	hooks    *hook.Registry
	agg      *metrics.Aggregator
	limiters *pacing.Limiters
	strategy backoff.Strategy
	mws      []middleware.Middleware
	chain    middleware.Middleware

	pendingHooks []hook.Hook
	dispatcherID id.DispatcherID

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu     sync.Mutex
	active map[string]*runState
	closed bool
	wg     sync.WaitGroup
}

// runState tracks one live dispatch loop.
type runState struct {
	sizer  *pacing.Sizer
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures the Engine.
type Option func(*Engine)

// WithConfig replaces the default engine configuration.
func WithConfig(cfg dialrun.Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithPublisher sets the event publisher for run lifecycle and metric
// notifications. Defaults to a no-op publisher.
func WithPublisher(pub event.Publisher) Option {
	return func(e *Engine) { e.pub = pub }
}

// WithHook registers a lifecycle hook.
func WithHook(h hook.Hook) Option {
	return func(e *Engine) { e.pendingHooks = append(e.pendingHooks, h) }
}

// WithBackoff sets the circuit breaker's backoff strategy.
func WithBackoff(s backoff.Strategy) Option {
	return func(e *Engine) { e.strategy = s }
}

// WithMiddleware appends dispatch middleware. Middleware runs inside the
// built-in recover/logging/timeout chain, closest to the vendor call.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, mws...) }
}

// New creates an Engine. The store, directory, and dispatcher are required.
func New(st store.Store, dir org.Directory, disp telephony.Dispatcher, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, dialrun.ErrNoStore
	}
	if dir == nil {
		return nil, fmt.Errorf("engine: nil org directory")
	}
	if disp == nil {
		return nil, fmt.Errorf("engine: nil telephony dispatcher")
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		store:        st,
		dir:          dir,
		disp:         disp,
		cfg:          dialrun.DefaultConfig(),
		logger:       slog.Default(),
		pub:          event.Nop{},
		strategy:     backoff.DefaultStrategy(),
		limiters:     pacing.NewLimiters(),
		dispatcherID: id.NewDispatcherID(),
		baseCtx:      ctx,
		baseCancel:   cancel,
		active:       make(map[string]*runState),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.hooks = hook.NewRegistry(e.logger)
	for _, h := range e.pendingHooks {
		e.hooks.Register(h)
	}

	e.debounce = event.NewDebouncer(e.pub, e.cfg.DebounceInterval)
	e.agg = metrics.NewAggregator(st, e.debounce, e.logger)
	e.chain = e.buildChain()

	return e, nil
}

// StartRun starts (or restarts) the dispatch loop for a run. Calling it for
// a run that already has a live loop is a no-op. Rows stranded in calling
// state by a previous process are requeued before the first batch.
func (e *Engine) StartRun(ctx context.Context, runID id.RunID) error {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.Terminal() {
		return fmt.Errorf("%w: run %s is %s", dialrun.ErrInvalidState, runID.String(), r.Status)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return dialrun.ErrStoreClosed
	}
	if _, live := e.active[runID.String()]; live {
		e.mu.Unlock()
		return nil
	}

	loopCtx, cancel := context.WithCancel(e.baseCtx)
	state := &runState{
		sizer: pacing.NewSizer(pacing.SizerConfig{
			Initial:         e.cfg.InitialBatchSize,
			Min:             e.cfg.MinBatchSize,
			Max:             e.cfg.MaxBatchSize,
			GrowThreshold:   e.cfg.GrowThreshold,
			ShrinkThreshold: e.cfg.ShrinkThreshold,
			ShrinkFactor:    e.cfg.ShrinkFactor,
		}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	e.active[runID.String()] = state
	e.mu.Unlock()

	fail := func(err error) error {
		cancel()
		e.mu.Lock()
		delete(e.active, runID.String())
		e.mu.Unlock()
		return err
	}

	if n, resetErr := e.store.ResetCallingRows(ctx, runID, "requeued on start"); resetErr != nil {
		return fail(resetErr)
	} else if n > 0 {
		e.logger.Info("requeued rows stranded in calling state",
			slog.String("run_id", runID.String()),
			slog.Int64("count", n),
		)
	}

	now := time.Now().UTC()
	if r.Metrics.StartedAt == nil {
		r.Metrics.StartedAt = &now
	} else {
		r.Metrics.RestartCount++
	}
	r.Metrics.PausedAt = nil
	r.Status = run.StatusRunning
	r.ScheduledAt = nil
	if updateErr := e.store.UpdateRun(ctx, r); updateErr != nil {
		return fail(updateErr)
	}

	e.hooks.EmitRunStarted(ctx, r)
	e.publish(ctx, runID, r.OrgID, event.RunStarted, runPayload(r))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(state.done)
		defer func() {
			e.mu.Lock()
			delete(e.active, runID.String())
			e.mu.Unlock()
			e.limiters.Remove(runID.String())
		}()
		e.processRun(loopCtx, runID, state)
	}()

	return nil
}

// PauseRun pauses a running run. The dispatch loop observes the status at
// its next reload and exits; in-flight calls are left to resolve.
func (e *Engine) PauseRun(ctx context.Context, runID id.RunID) error {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusRunning {
		return fmt.Errorf("%w: cannot pause run in status %s", dialrun.ErrInvalidState, r.Status)
	}

	now := time.Now().UTC()
	r.Status = run.StatusPaused
	r.Metrics.PausedAt = &now
	if err := e.store.UpdateRun(ctx, r); err != nil {
		return err
	}

	e.mu.Lock()
	state, live := e.active[runID.String()]
	e.mu.Unlock()
	if live {
		state.cancel()
	}

	e.publish(ctx, runID, r.OrgID, event.RunPaused, runPayload(r))
	return nil
}

// ResumeRun resumes a paused run.
func (e *Engine) ResumeRun(ctx context.Context, runID id.RunID) error {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusPaused {
		return fmt.Errorf("%w: cannot resume run in status %s", dialrun.ErrInvalidState, r.Status)
	}
	return e.StartRun(ctx, runID)
}

// CompleteRun marks a run completed once every row has reached a terminal
// state. It is idempotent: completing a completed run is a no-op, and the
// completion timestamp is stamped exactly once. If any rows are still
// pending or calling, nothing happens.
func (e *Engine) CompleteRun(ctx context.Context, runID id.RunID) error {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status == run.StatusCompleted {
		return nil
	}

	outstanding, err := e.store.CountRows(ctx, runID, row.StatusPending, row.StatusCalling)
	if err != nil {
		return err
	}
	if outstanding > 0 {
		return nil
	}

	// Reconcile terminal counters from actual row states so the final
	// record is exact even if increments were lost along the way.
	if err := e.reconcileCounters(ctx, r); err != nil {
		return err
	}

	now := time.Now().UTC()
	if r.Metrics.CompletedAt == nil {
		r.Metrics.CompletedAt = &now
	}
	r.Status = run.StatusCompleted
	if err := e.store.UpdateRun(ctx, r); err != nil {
		return err
	}

	var elapsed time.Duration
	if r.Metrics.StartedAt != nil {
		elapsed = r.Metrics.CompletedAt.Sub(*r.Metrics.StartedAt)
	}
	e.hooks.EmitRunCompleted(ctx, r, elapsed)
	e.publish(ctx, runID, r.OrgID, event.RunCompleted, runPayload(r))

	e.logger.Info("run completed",
		slog.String("run_id", runID.String()),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (e *Engine) reconcileCounters(ctx context.Context, r *run.Run) error {
	total, err := e.store.CountRows(ctx, r.ID)
	if err != nil {
		return err
	}
	completed, err := e.store.CountRows(ctx, r.ID, row.StatusCompleted)
	if err != nil {
		return err
	}
	failed, err := e.store.CountRows(ctx, r.ID, row.StatusFailed)
	if err != nil {
		return err
	}
	skipped, err := e.store.CountRows(ctx, r.ID, row.StatusSkipped)
	if err != nil {
		return err
	}

	r.Metrics.Calls.Total = total
	r.Metrics.Calls.Completed = completed
	r.Metrics.Calls.Failed = failed
	r.Metrics.Calls.Skipped = skipped
	r.Metrics.Calls.Pending = 0
	r.Metrics.Calls.Calling = 0
	return nil
}

// ReplayFailedRows returns a run's failed rows to pending with cleared
// retry budgets, making them claimable again. The caller restarts the run
// to dispatch them.
func (e *Engine) ReplayFailedRows(ctx context.Context, runID id.RunID) (int64, error) {
	n, err := e.store.ResetFailedRows(ctx, runID, "replay requested")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("failed rows reset for replay",
			slog.String("run_id", runID.String()),
			slog.Int64("count", n),
		)
	}
	return n, nil
}

// ReapStuckRows sweeps all runs for rows stuck in calling state longer than
// the configured threshold and returns them to pending. The per-run loops
// reap their own rows; this global sweep covers runs without a live loop.
func (e *Engine) ReapStuckRows(ctx context.Context) (int64, error) {
	n, err := e.store.ResetStuckRows(ctx, id.Nil, e.cfg.StuckRowThreshold, "stuck row reset")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Warn("reset stuck rows", slog.Int64("count", n))
		e.hooks.EmitRowsReaped(ctx, id.Nil, n)
	}
	return n, nil
}

// IncrementMetric adds delta to a run metric counter, e.g. from a webhook
// collaborator recording "calls.completed" when the vendor reports an
// outcome.
func (e *Engine) IncrementMetric(ctx context.Context, runID id.RunID, path string, delta int64) error {
	return e.agg.Increment(ctx, runID, path, delta)
}

// Running reports whether a dispatch loop is live for the run.
func (e *Engine) Running(runID id.RunID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, live := e.active[runID.String()]
	return live
}

// Close stops all dispatch loops and waits for them to exit. Pending
// debounced events are flushed.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.baseCancel()
	e.wg.Wait()
	e.debounce.Close()
	return nil
}

// publish delivers a lifecycle event on the run channel and the org channel.
func (e *Engine) publish(ctx context.Context, runID id.RunID, orgID id.OrgID, name string, payload any) {
	if err := e.pub.Publish(ctx, event.ChannelRunPrefix+runID.String(), name, payload); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("event", name),
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
	}
	if orgID.IsNil() {
		return
	}
	if err := e.pub.Publish(ctx, event.ChannelOrgPrefix+orgID.String(), name, payload); err != nil {
		e.logger.Warn("event publish failed",
			slog.String("event", name),
			slog.String("org_id", orgID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func runPayload(r *run.Run) map[string]any {
	return map[string]any{
		"run_id": r.ID.String(),
		"org_id": r.OrgID.String(),
		"status": string(r.Status),
	}
}
