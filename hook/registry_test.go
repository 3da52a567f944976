package hook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/hook"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
)

// recordingHook implements a subset of the event interfaces.
type recordingHook struct {
	runStarted int
	rowFailed  int
	err        error
}

func (h *recordingHook) Name() string { return "recording" }

func (h *recordingHook) OnRunStarted(context.Context, *run.Run) error {
	h.runStarted++
	return h.err
}

func (h *recordingHook) OnRowFailed(context.Context, *row.Row, error) error {
	h.rowFailed++
	return h.err
}

func TestRegistry_DispatchesOnlyImplementedEvents(t *testing.T) {
	reg := hook.NewRegistry(nil)
	h := &recordingHook{}
	reg.Register(h)

	ctx := context.Background()
	r := &run.Run{ID: id.NewRunID()}
	rw := &row.Row{ID: id.NewRowID()}

	reg.EmitRunStarted(ctx, r)
	reg.EmitRowFailed(ctx, rw, errors.New("vendor down"))
	// recordingHook does not implement these; emitting must be harmless.
	reg.EmitRunCompleted(ctx, r, time.Second)
	reg.EmitCallDispatched(ctx, rw, &call.Call{})
	reg.EmitRowsReaped(ctx, r.ID, 2)

	if h.runStarted != 1 {
		t.Errorf("runStarted = %d, want 1", h.runStarted)
	}
	if h.rowFailed != 1 {
		t.Errorf("rowFailed = %d, want 1", h.rowFailed)
	}
}

func TestRegistry_HookErrorsAreSwallowed(t *testing.T) {
	reg := hook.NewRegistry(nil)
	failing := &recordingHook{err: errors.New("hook broke")}
	healthy := &recordingHook{}
	reg.Register(failing)
	reg.Register(healthy)

	reg.EmitRunStarted(context.Background(), &run.Run{ID: id.NewRunID()})

	// Both hooks run despite the first one erroring.
	if failing.runStarted != 1 || healthy.runStarted != 1 {
		t.Errorf("runStarted = %d/%d, want 1/1", failing.runStarted, healthy.runStarted)
	}
}
