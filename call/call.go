// Package call defines the call record created per dispatch and the count
// queries the slot allocator reads fresh on every loop iteration.
package call

import (
	"github.com/xraph/dialrun"
	"github.com/xraph/dialrun/id"
)

// Direction distinguishes outbound campaign calls from inbound ones
// reported by webhooks.
type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

// Status represents the vendor-reported state of a call.
type Status string

const (
	// StatusRegistered means the vendor accepted the dispatch; the call
	// has not connected yet.
	StatusRegistered Status = "registered"
	// StatusOngoing means the call is connected and in progress.
	StatusOngoing Status = "ongoing"
	// StatusEnded means the call finished.
	StatusEnded Status = "ended"
	// StatusFailed means the vendor could not complete the call.
	StatusFailed Status = "failed"
	// StatusVoicemail means the call reached a voicemail box.
	StatusVoicemail Status = "voicemail"
)

// Active reports whether the call still occupies a concurrency slot.
func (s Status) Active() bool {
	return s == StatusRegistered || s == StatusOngoing
}

// Call is one telephony call record. RowID is nil for ad hoc calls placed
// outside any run; such calls still count against the org ceiling.
type Call struct {
	dialrun.Entity

	ID        id.CallID    `json:"id"`
	OrgID     id.OrgID     `json:"org_id"`
	RunID     id.RunID     `json:"run_id,omitempty"`
	RowID     id.RowID     `json:"row_id,omitempty"`
	PatientID id.PatientID `json:"patient_id,omitempty"`

	Direction  Direction `json:"direction"`
	Status     Status    `json:"status"`
	ToNumber   string    `json:"to_number"`
	FromNumber string    `json:"from_number"`

	// VendorCallID is the telephony vendor's identifier for this call.
	VendorCallID string `json:"vendor_call_id,omitempty"`

	// Analysis is the vendor-reported outcome payload, written by the
	// webhook collaborator and read-only here.
	Analysis map[string]any `json:"analysis,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}
