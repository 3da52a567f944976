// Package store defines the composite persistence contract the engine runs
// against. A backend implements every subsystem interface on one type; the
// engine type-asserts the subsystem views it needs off a single value.
package store

import (
	"context"

	"github.com/xraph/dialrun/call"
	"github.com/xraph/dialrun/row"
	"github.com/xraph/dialrun/run"
)

// Store is the full persistence contract. Backends must implement all
// subsystem stores plus the lifecycle methods.
//
// Backends may additionally implement run.MetricIncrementer to give the
// metrics aggregator a single atomic counter write instead of the
// optimistic read-modify-write fallback.
type Store interface {
	run.Store
	row.Store
	call.Store

	// Migrate creates or upgrades the backend schema. No-op for
	// schemaless backends.
	Migrate(ctx context.Context) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
