package dialrun

import "time"

// Config holds engine-wide tuning. Every threshold the dispatch loop uses is
// configuration: historical implementations of this loop disagreed on exact
// values, so none of them are hard-coded.
type Config struct {
	// InitialBatchSize is the adaptive sizer's starting batch size.
	InitialBatchSize int

	// MinBatchSize and MaxBatchSize bound the adaptive batch size.
	MinBatchSize int
	MaxBatchSize int

	// GrowThreshold is the batch success rate at or above which the
	// adaptive size grows by one.
	GrowThreshold float64

	// ShrinkThreshold is the batch success rate below which the adaptive
	// size is multiplied by ShrinkFactor.
	ShrinkThreshold float64

	// ShrinkFactor is the multiplicative decrease applied on a bad batch.
	ShrinkFactor float64

	// ConsecutiveErrorLimit is the number of back-to-back dispatch errors
	// within one batch that trips the circuit breaker: an immediate
	// shrink plus a backoff sleep.
	ConsecutiveErrorLimit int

	// DefaultMaxRetries applies when a run does not set its own budget.
	DefaultMaxRetries int

	// DefaultCallsPerMinute applies when a run does not set its own rate.
	DefaultCallsPerMinute int

	// DefaultCallStartHour and DefaultCallEndHour bound the recipient
	// local-time window when a run enables timezone restrictions but
	// does not configure the window.
	DefaultCallStartHour int
	DefaultCallEndHour   int

	// DispatchTimeout caps a single telephony dispatch attempt.
	DispatchTimeout time.Duration

	// NoCapacityWait is the sleep when the slot allocator reports zero.
	NoCapacityWait time.Duration

	// IdleWait is the sleep when no rows are claimable but some are
	// still outstanding.
	IdleWait time.Duration

	// OutsideHoursWait is the long sleep while the organization's office
	// hours say not callable. Not a terminal state.
	OutsideHoursWait time.Duration

	// MaxInterBatchWait caps the rate-derived sleep between batches.
	MaxInterBatchWait time.Duration

	// ReaperInterval is how often the loop sweeps for stuck rows.
	ReaperInterval time.Duration

	// StuckRowThreshold is how long a row may sit in the calling state
	// before the reaper resets it to pending.
	StuckRowThreshold time.Duration

	// DebounceInterval collapses rapid successive metric notifications
	// per (run, path) pair.
	DebounceInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		InitialBatchSize:      10,
		MinBatchSize:          1,
		MaxBatchSize:          20,
		GrowThreshold:         0.9,
		ShrinkThreshold:       0.7,
		ShrinkFactor:          0.75,
		ConsecutiveErrorLimit: 3,
		DefaultMaxRetries:     3,
		DefaultCallsPerMinute: 10,
		DefaultCallStartHour:  8,
		DefaultCallEndHour:    20,
		DispatchTimeout:       30 * time.Second,
		NoCapacityWait:        5 * time.Second,
		IdleWait:              5 * time.Second,
		OutsideHoursWait:      15 * time.Minute,
		MaxInterBatchWait:     30 * time.Second,
		ReaperInterval:        60 * time.Second,
		StuckRowThreshold:     10 * time.Minute,
		DebounceInterval:      2 * time.Second,
	}
}
