// Package row defines a run's call targets and the conditional-claim store
// contract that keeps concurrent dispatchers from double-dialing a row.
package row

import (
	"time"

	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/id"
)

// Status represents the lifecycle state of a row.
type Status string

const (
	// StatusPending means the row is waiting to be claimed by a dispatch loop.
	StatusPending Status = "pending"
	// StatusCalling means a dispatch loop has claimed the row and a call is
	// in flight (or being placed).
	StatusCalling Status = "calling"
	// StatusCompleted means the call resolved successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the row exhausted its retry budget.
	StatusFailed Status = "failed"
	// StatusSkipped means the row was permanently skipped before dispatch.
	StatusSkipped Status = "skipped"
	// StatusCallback means the recipient requested a callback.
	StatusCallback Status = "callback"
)

// Terminal reports whether the status is an end state. Rows are never
// deleted, only terminal-stamped.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// ClaimInfo records who claimed a row and when. It makes a reset row
// distinguishable from a fresh pending one.
type ClaimInfo struct {
	ClaimedAt    time.Time       `json:"claimed_at"`
	DispatcherID id.DispatcherID `json:"dispatcher_id"`
}

// Row represents one call target (recipient plus payload variables)
// within a run.
type Row struct {
	dialrun.Entity

	ID        id.RowID     `json:"id"`
	RunID     id.RunID     `json:"run_id"`
	PatientID id.PatientID `json:"patient_id,omitempty"`

	// SortIndex preserves the run-build order; Priority overrides it
	// (higher first) when the payload derives one.
	SortIndex int `json:"sort_index"`
	Priority  int `json:"priority"`

	Status Status `json:"status"`

	// Variables is the key-value payload merged into the dispatch,
	// including the phone number and optional recipient timezone.
	Variables map[string]string `json:"variables"`

	RetryCount   int    `json:"retry_count"`
	CallAttempts int    `json:"call_attempts"`
	VendorCallID string `json:"vendor_call_id,omitempty"`
	Error        string `json:"error,omitempty"`

	// Audit trail.
	Claim          *ClaimInfo `json:"claim,omitempty"`
	LastSkipReason string     `json:"last_skip_reason,omitempty"`
	ResetReason    string     `json:"reset_reason,omitempty"`
}

// Variable keys the engine reads from the payload.
const (
	VarPhone    = "phone"
	VarTimezone = "timezone"
)

// PhoneNumber returns the row's target phone number, or "" if absent.
func (r *Row) PhoneNumber() string {
	return r.Variables[VarPhone]
}

// Timezone returns the recipient's timezone, or "" if absent.
func (r *Row) Timezone() string {
	return r.Variables[VarTimezone]
}
