package pacing

import "sync"

// SizerConfig bounds and tunes an adaptive batch sizer.
type SizerConfig struct {
	Initial         int
	Min             int
	Max             int
	GrowThreshold   float64 // success rate at or above which size grows by one
	ShrinkThreshold float64 // success rate below which size shrinks multiplicatively
	ShrinkFactor    float64
}

// Sizer is a per-run additive-increase/multiplicative-decrease controller
// over the next batch size. It protects the telephony vendor from sustained
// failure storms while recovering quickly once dispatches are healthy.
// Safe for concurrent use.
type Sizer struct {
	mu   sync.Mutex
	cfg  SizerConfig
	size int
}

// NewSizer creates a Sizer at the configured initial size, clamped into
// [Min, Max].
func NewSizer(cfg SizerConfig) *Sizer {
	s := &Sizer{cfg: cfg, size: cfg.Initial}
	s.size = clamp(s.size, cfg.Min, cfg.Max)
	return s
}

// Size returns the current batch size.
func (s *Sizer) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Observe feeds the prior batch's outcome into the controller. A batch
// with zero attempts leaves the size unchanged.
func (s *Sizer) Observe(successes, attempts int) {
	if attempts <= 0 {
		return
	}
	ratio := float64(successes) / float64(attempts)

	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case ratio >= s.cfg.GrowThreshold:
		s.size = clamp(s.size+1, s.cfg.Min, s.cfg.Max)
	case ratio < s.cfg.ShrinkThreshold:
		s.size = clamp(int(float64(s.size)*s.cfg.ShrinkFactor), s.cfg.Min, s.cfg.Max)
	}
}

// ForceShrink applies an immediate multiplicative decrease, independent of
// the per-batch adjustment. The circuit breaker calls this on consecutive
// dispatch errors.
func (s *Sizer) ForceShrink() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.size = clamp(int(float64(s.size)*s.cfg.ShrinkFactor), s.cfg.Min, s.cfg.Max)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
