// Package scheduler arms future run activations. Each scheduled run gets an
// in-process timer; a periodic recovery sweep catches runs whose timers were
// lost to a restart.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/id"
	"github.com/xraph/dialrun/run"
)

// StartFunc starts the dispatch loop for a run. The engine's StartRun
// satisfies this; the indirection keeps the scheduler engine-agnostic.
type StartFunc func(ctx context.Context, runID id.RunID) error

// Scheduler persists activation times and fires StartFunc when they arrive.
type Scheduler struct {
	store  run.Store
	start  StartFunc
	logger *slog.Logger
	sweep  string

	mu      sync.Mutex
	timers  map[string]*time.Timer
	cron    *cron.Cron
	started bool
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithSweepSchedule sets the cron spec for the recovery sweep.
// Defaults to "@every 1m".
func WithSweepSchedule(spec string) Option {
	return func(s *Scheduler) { s.sweep = spec }
}

// New creates a Scheduler.
func New(store run.Store, start StartFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		start:  start,
		logger: slog.Default(),
		sweep:  "@every 1m",
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ScheduleRun records an activation time for a run and arms a timer for it.
// Rescheduling replaces any previously armed timer. Past activation times
// fire immediately.
func (s *Scheduler) ScheduleRun(ctx context.Context, runID id.RunID, at time.Time) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch r.Status {
	case run.StatusDraft, run.StatusScheduled, run.StatusPaused:
	default:
		return fmt.Errorf("%w: cannot schedule run in status %s", dialrun.ErrInvalidState, r.Status)
	}

	r.Status = run.StatusScheduled
	r.ScheduledAt = &at
	if err := s.store.UpdateRun(ctx, r); err != nil {
		return err
	}

	s.armTimer(runID, at)

	s.logger.Info("run scheduled",
		slog.String("run_id", runID.String()),
		slog.Time("at", at),
	)
	return nil
}

// ClearScheduledRun disarms a run's timer and returns it to draft.
// Clearing a run that is not scheduled is a no-op.
func (s *Scheduler) ClearScheduledRun(ctx context.Context, runID id.RunID) error {
	s.disarmTimer(runID)

	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusScheduled {
		return nil
	}

	r.Status = run.StatusDraft
	r.ScheduledAt = nil
	return s.store.UpdateRun(ctx, r)
}

// CheckScheduledRuns starts every scheduled run whose activation time has
// passed. This is the recovery path for timers lost to a restart; the cron
// sweep calls it periodically. Returns the number of runs started.
func (s *Scheduler) CheckScheduledRuns(ctx context.Context) (int, error) {
	due, err := s.store.ListDueScheduledRuns(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	started := 0
	for _, r := range due {
		s.disarmTimer(r.ID)
		if startErr := s.start(ctx, r.ID); startErr != nil {
			s.logger.Error("scheduled run start failed",
				slog.String("run_id", r.ID.String()),
				slog.String("error", startErr.Error()),
			)
			continue
		}
		started++
	}
	return started, nil
}

// Start launches the recovery sweep. Already-due runs are started
// immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.cron = cron.New()
	s.mu.Unlock()

	if _, err := s.cron.AddFunc(s.sweep, func() {
		if _, sweepErr := s.CheckScheduledRuns(context.Background()); sweepErr != nil {
			s.logger.Error("scheduled run sweep failed",
				slog.String("error", sweepErr.Error()),
			)
		}
	}); err != nil {
		return fmt.Errorf("scheduler: add sweep: %w", err)
	}
	s.cron.Start()

	// Catch anything that came due while we were down.
	if _, err := s.CheckScheduledRuns(ctx); err != nil {
		s.logger.Error("initial scheduled run sweep failed",
			slog.String("error", err.Error()),
		)
	}
	return nil
}

// Stop disarms all timers and halts the sweep.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	c := s.cron
	s.cron = nil
	s.started = false
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

func (s *Scheduler) armTimer(runID id.RunID, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runID.String()
	if t, ok := s.timers[key]; ok {
		t.Stop()
	}
	s.timers[key] = time.AfterFunc(time.Until(at), func() {
		s.fire(runID)
	})
}

func (s *Scheduler) disarmTimer(runID id.RunID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := runID.String()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *Scheduler) fire(runID id.RunID) {
	s.mu.Lock()
	delete(s.timers, runID.String())
	s.mu.Unlock()

	if err := s.start(context.Background(), runID); err != nil {
		s.logger.Error("scheduled run start failed",
			slog.String("run_id", runID.String()),
			slog.String("error", err.Error()),
		)
	}
}
