// Package pacing controls how fast a run may dial: slot allocation against
// the org-wide concurrency ceiling, an adaptive batch sizer, and per-run
// call rate limiters.
package pacing

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// AvailableSlots computes the concurrent-call capacity for a run given the
// organization ceiling and fresh active-call counts at org and run scope.
// The org-wide ceiling binds even when multiple runs are active, and each
// run is individually capped at the same ceiling so one run cannot
// monopolize it. A negative result is clamped to zero.
func AvailableSlots(ceiling, orgActive, runActive int) int {
	slots := min(ceiling-orgActive, ceiling-runActive)
	if slots < 0 {
		return 0
	}
	return slots
}

// Limiters holds one token-bucket limiter per run, derived from the run's
// calls-per-minute rate. Safe for concurrent use.
type Limiters struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
}

// NewLimiters creates an empty limiter set.
func NewLimiters() *Limiters {
	return &Limiters{m: make(map[string]*rate.Limiter)}
}

// Wait blocks until the run may place its next call, enforcing a minimum
// inter-call delay of one minute divided by callsPerMinute. A rate of zero
// or less means unpaced. Returns the context's error if it expires first.
func (l *Limiters) Wait(ctx context.Context, key string, callsPerMinute int) error {
	if callsPerMinute <= 0 {
		return nil
	}

	l.mu.Lock()
	lim, ok := l.m[key]
	if !ok || lim.Limit() != rate.Limit(float64(callsPerMinute)/60.0) {
		lim = rate.NewLimiter(rate.Limit(float64(callsPerMinute)/60.0), 1)
		l.m[key] = lim
	}
	l.mu.Unlock()

	return lim.Wait(ctx)
}

// Remove drops the limiter for a run. Called when its dispatch loop exits.
func (l *Limiters) Remove(key string) {
	l.mu.Lock()
	delete(l.m, key)
	l.mu.Unlock()
}
