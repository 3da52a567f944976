// Package dialrun provides the dispatch engine for outbound call campaigns.
// It turns a campaign run (a batch of call targets) into a paced stream of
// telephony dispatch requests while respecting organization concurrency
// ceilings, office hours, per-recipient timezone windows, and retry budgets.
//
// Dialrun is designed as a library, not a service. Import it, configure a
// store and a telephony dispatcher, and start runs.
//
// # Quick Start
//
//	eng, err := engine.New(st, dir, vendor,
//	    engine.WithPublisher(pub),
//	    engine.WithLogger(logger),
//	)
//	...
//	err = eng.StartRun(ctx, runID)
//
// # Architecture
//
// Dialrun follows a composable store pattern where each subsystem (run, row,
// call) defines its own store interface. A single backend implements all of
// them. Row claims are single-row conditional updates; that conditional
// write is the only synchronization primitive the engine needs beyond an
// in-process set of active run ids.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package dialrun
