// Package telephony defines the vendor-agnostic dispatch interface the
// engine calls to place outbound calls.
//
// Rules:
//   - No vendor SDK calls outside telephony adapters.
//   - Keep request/result types vendor-agnostic; vendor raw payloads
//     belong in call metadata, not here.
//   - The engine never retries a dispatch without re-checking row state
//     first, so adapters need not be idempotent on their own.
package telephony

import (
	"context"

	"github.com/xraph/dialrun/id"
)

// Metadata correlates a dispatch with the run, row, and organization it
// belongs to. Adapters pass it through to the vendor so webhook callbacks
// can be routed back.
type Metadata struct {
	RunID      id.RunID      `json:"run_id,omitempty"`
	RowID      id.RowID      `json:"row_id,omitempty"`
	OrgID      id.OrgID      `json:"org_id"`
	CampaignID id.CampaignID `json:"campaign_id,omitempty"`
	PatientID  id.PatientID  `json:"patient_id,omitempty"`
}

// Request describes one outbound call to place.
type Request struct {
	// ToNumber and FromNumber are E.164 where possible.
	ToNumber   string `json:"to_number"`
	FromNumber string `json:"from_number"`

	// AgentID is the vendor agent identity handling the call.
	AgentID string `json:"agent_id"`

	// Variables is the merged campaign and row payload handed to the agent.
	Variables map[string]string `json:"variables,omitempty"`

	Metadata Metadata `json:"metadata"`
}

// Result is the vendor's acceptance of a dispatch.
type Result struct {
	// CallID is the vendor's unique identifier for the placed call.
	CallID string `json:"call_id"`
}

// Dispatcher places outbound calls with the telephony vendor.
type Dispatcher interface {
	// Dispatch requests the vendor place a call. A non-nil error is a
	// transient dispatch failure and feeds the row's retry budget.
	Dispatch(ctx context.Context, req Request) (Result, error)
}
