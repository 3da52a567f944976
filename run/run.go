// Package run defines the campaign run entity: its status state machine,
// its rate and retry configuration, and its versioned metrics record.
package run

import (
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/id"
)

// Status represents the lifecycle state of a run.
type Status string

const (
	// StatusDraft means the run has been created but not scheduled or started.
	StatusDraft Status = "draft"
	// StatusScheduled means the run has a future activation time armed.
	StatusScheduled Status = "scheduled"
	// StatusRunning means a dispatch loop is processing the run.
	StatusRunning Status = "running"
	// StatusPaused means the run was paused; the loop exits at its next check.
	StatusPaused Status = "paused"
	// StatusCompleted means every row reached a terminal state.
	StatusCompleted Status = "completed"
	// StatusFailed means the dispatch loop hit a run-fatal error.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Config holds the per-run rate, batch, and gating configuration.
// Zero values defer to the engine's defaults.
type Config struct {
	// CallsPerMinute paces dispatches within the run.
	CallsPerMinute int `json:"calls_per_minute"`

	// BatchSize is the user-configured cap on a single batch. The
	// effective batch size is further bounded by available slots and
	// the adaptive sizer.
	BatchSize int `json:"batch_size"`

	// MaxRetries is the per-row retry budget for dispatch errors.
	MaxRetries int `json:"max_retries"`

	// RespectPatientTimezone gates each dispatch on the recipient's
	// local-hour window.
	RespectPatientTimezone bool `json:"respect_patient_timezone"`

	// CallStartHour and CallEndHour bound the recipient window
	// [start, end) when RespectPatientTimezone is set.
	CallStartHour int `json:"call_start_hour"`
	CallEndHour   int `json:"call_end_hour"`
}

// Run represents one execution of a campaign against a set of call targets.
type Run struct {
	dialrun.Entity

	ID          id.RunID      `json:"id"`
	OrgID       id.OrgID      `json:"org_id"`
	CampaignID  id.CampaignID `json:"campaign_id"`
	Name        string        `json:"name,omitempty"`
	Status      Status        `json:"status"`
	ScheduledAt *time.Time    `json:"scheduled_at,omitempty"`
	Config      Config        `json:"config"`
	Metrics     Metrics       `json:"metrics"`
}
