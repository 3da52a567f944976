package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
)

// Named entry types pair a hook implementation with the hook name captured
// at registration time. This avoids type-asserting back to Hook inside the
// emit methods.
type runStartedEntry struct {
	name string
	hook RunStarted
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type callDispatchedEntry struct {
	name string
	hook CallDispatched
}

type rowRetryingEntry struct {
	name string
	hook RowRetrying
}

type rowFailedEntry struct {
	name string
	hook RowFailed
}

type rowSkippedEntry struct {
	name string
	hook RowSkipped
}

type rowsReapedEntry struct {
	name string
	hook RowsReaped
}

// Registry holds registered hooks and dispatches lifecycle events to them.
// Hook errors are logged, never propagated: lifecycle notification is
// best-effort and must not disturb the dispatch loop.
type Registry struct {
	hooks  []Hook
	logger *slog.Logger

	runStarted     []runStartedEntry
	runCompleted   []runCompletedEntry
	runFailed      []runFailedEntry
	callDispatched []callDispatchedEntry
	rowRetrying    []rowRetryingEntry
	rowFailed      []rowFailedEntry
	rowSkipped     []rowSkippedEntry
	rowsReaped     []rowsReapedEntry
}

// NewRegistry creates a hook registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds a hook and type-asserts it into all applicable event
// caches. Hooks are notified in registration order.
func (r *Registry) Register(h Hook) {
	r.hooks = append(r.hooks, h)
	name := h.Name()

	if e, ok := h.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, e})
	}
	if e, ok := h.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, e})
	}
	if e, ok := h.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, e})
	}
	if e, ok := h.(CallDispatched); ok {
		r.callDispatched = append(r.callDispatched, callDispatchedEntry{name, e})
	}
	if e, ok := h.(RowRetrying); ok {
		r.rowRetrying = append(r.rowRetrying, rowRetryingEntry{name, e})
	}
	if e, ok := h.(RowFailed); ok {
		r.rowFailed = append(r.rowFailed, rowFailedEntry{name, e})
	}
	if e, ok := h.(RowSkipped); ok {
		r.rowSkipped = append(r.rowSkipped, rowSkippedEntry{name, e})
	}
	if e, ok := h.(RowsReaped); ok {
		r.rowsReaped = append(r.rowsReaped, rowsReapedEntry{name, e})
	}
}

// Hooks returns all registered hooks.
func (r *Registry) Hooks() []Hook { return r.hooks }

func (r *Registry) hookError(hookName, event string, err error) {
	r.logger.Warn("hook error",
		slog.String("hook", hookName),
		slog.String("event", event),
		slog.String("error", err.Error()),
	)
}

// EmitRunStarted notifies RunStarted hooks.
func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, rn); err != nil {
			r.hookError(e.name, "run_started", err)
		}
	}
}

// EmitRunCompleted notifies RunCompleted hooks.
func (r *Registry) EmitRunCompleted(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, rn, elapsed); err != nil {
			r.hookError(e.name, "run_completed", err)
		}
	}
}

// EmitRunFailed notifies RunFailed hooks.
func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, cause error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, rn, cause); err != nil {
			r.hookError(e.name, "run_failed", err)
		}
	}
}

// EmitCallDispatched notifies CallDispatched hooks.
func (r *Registry) EmitCallDispatched(ctx context.Context, rw *row.Row, c *call.Call) {
	for _, e := range r.callDispatched {
		if err := e.hook.OnCallDispatched(ctx, rw, c); err != nil {
			r.hookError(e.name, "call_dispatched", err)
		}
	}
}

// EmitRowRetrying notifies RowRetrying hooks.
func (r *Registry) EmitRowRetrying(ctx context.Context, rw *row.Row, attempt int) {
	for _, e := range r.rowRetrying {
		if err := e.hook.OnRowRetrying(ctx, rw, attempt); err != nil {
			r.hookError(e.name, "row_retrying", err)
		}
	}
}

// EmitRowFailed notifies RowFailed hooks.
func (r *Registry) EmitRowFailed(ctx context.Context, rw *row.Row, cause error) {
	for _, e := range r.rowFailed {
		if err := e.hook.OnRowFailed(ctx, rw, cause); err != nil {
			r.hookError(e.name, "row_failed", err)
		}
	}
}

// EmitRowSkipped notifies RowSkipped hooks.
func (r *Registry) EmitRowSkipped(ctx context.Context, rw *row.Row, reason string) {
	for _, e := range r.rowSkipped {
		if err := e.hook.OnRowSkipped(ctx, rw, reason); err != nil {
			r.hookError(e.name, "row_skipped", err)
		}
	}
}

// EmitRowsReaped notifies RowsReaped hooks.
func (r *Registry) EmitRowsReaped(ctx context.Context, runID id.RunID, count int64) {
	for _, e := range r.rowsReaped {
		if err := e.hook.OnRowsReaped(ctx, runID, count); err != nil {
			r.hookError(e.name, "rows_reaped", err)
		}
	}
}
