// Package event provides the fire-and-forget publisher the engine uses to
// notify external consumers (dashboards, webhook relays) of run progress.
// Publish failures are logged by callers, never fatal to the dispatch loop.
package event

import "context"

// Channel names events are published on. Run-scoped channels carry the run
// id suffix; org-scoped channels the org id.
const (
	ChannelRunPrefix = "run:"
	ChannelOrgPrefix = "org:"
)

// Event names published by the engine.
const (
	RunStarted     = "run.started"
	RunCompleted   = "run.completed"
	RunFailed      = "run.failed"
	RunPaused      = "run.paused"
	CallStarted    = "call.started"
	MetricsUpdated = "metrics.updated"
)

// MetricsUpdatedFor returns the event name for an update to one counter
// path, e.g. "metrics.updated:calls.failed". Distinct counters carry
// distinct names so a debouncing publisher collapses bursts per counter,
// not per run.
func MetricsUpdatedFor(path string) string {
	return MetricsUpdated + ":" + path
}

// Publisher delivers events to external consumers. Implementations must be
// safe for concurrent use and should treat delivery as best-effort.
type Publisher interface {
	Publish(ctx context.Context, channel, name string, payload any) error
}

// Nop is a Publisher that discards everything. It is the default when no
// publisher is configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(_ context.Context, _, _ string, _ any) error { return nil }
