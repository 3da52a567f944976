package run

import "time"

// MetricsVersion identifies the metrics record layout for forward
// compatibility with persisted runs.
const MetricsVersion = 1

// Counters holds the run's call counters. All counters are monotonic
// except Calling and Pending, which move between each other as rows are
// claimed and resolved.
type Counters struct {
	Total     int64 `json:"total"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Calling   int64 `json:"calling"`
	Pending   int64 `json:"pending"`
	Skipped   int64 `json:"skipped"`
	Retried   int64 `json:"retried"`
	Voicemail int64 `json:"voicemail"`
	Connected int64 `json:"connected"`
	Converted int64 `json:"converted"`
}

// Metrics is the run's versioned metrics record: typed counters, run-phase
// timestamps, and a small open-ended side channel for vendor fields.
// Untyped JSON is never deep-merged into it.
type Metrics struct {
	Version  int      `json:"version"`
	Calls    Counters `json:"calls"`

	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	PausedAt     *time.Time `json:"paused_at,omitempty"`
	LastCallAt   *time.Time `json:"last_call_at,omitempty"`
	RestartCount int        `json:"restart_count"`
	LastError    string     `json:"last_error,omitempty"`
	LastHold     string     `json:"last_hold,omitempty"`
	FailureStack string     `json:"failure_stack,omitempty"`

	// Extra carries forward-compatible vendor counters keyed by dot path.
	Extra map[string]int64 `json:"extra,omitempty"`
}

// NewMetrics returns an empty metrics record at the current version.
func NewMetrics() Metrics {
	return Metrics{Version: MetricsVersion}
}

// Counter returns a pointer to the typed counter for a dot path such as
// "calls.completed", or nil if the path is not a typed counter. Unknown
// paths land in Extra.
func (m *Metrics) Counter(path string) *int64 {
	switch path {
	case "calls.total":
		return &m.Calls.Total
	case "calls.completed":
		return &m.Calls.Completed
	case "calls.failed":
		return &m.Calls.Failed
	case "calls.calling":
		return &m.Calls.Calling
	case "calls.pending":
		return &m.Calls.Pending
	case "calls.skipped":
		return &m.Calls.Skipped
	case "calls.retried":
		return &m.Calls.Retried
	case "calls.voicemail":
		return &m.Calls.Voicemail
	case "calls.connected":
		return &m.Calls.Connected
	case "calls.converted":
		return &m.Calls.Converted
	default:
		return nil
	}
}

// Add increments the counter at path by delta. Typed counters are
// incremented in place; unknown paths accumulate in Extra.
func (m *Metrics) Add(path string, delta int64) {
	if c := m.Counter(path); c != nil {
		*c += delta
		return
	}
	if m.Extra == nil {
		m.Extra = make(map[string]int64)
	}
	m.Extra[path] += delta
}
