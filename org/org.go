// Package org defines the read-only organization and campaign directory
// the dispatch engine consults. The directory is collaborator-owned; the
// engine never writes through it.
package org

import (
	"context"

	"github.com/xraph/dialrun/hours"
	"github.com/xraph/dialrun/id"
)

// Organization carries the org-wide settings the engine gates on.
type Organization struct {
	ID id.OrgID `json:"id"`

	// ConcurrencyLimit is the org-wide ceiling on simultaneous calls.
	ConcurrencyLimit int `json:"concurrency_limit"`

	// Timezone is an IANA name such as "America/New_York". Empty means
	// office hours are not enforced.
	Timezone string `json:"timezone"`

	// OfficeHours is the weekly calling schedule in the org timezone.
	OfficeHours hours.Schedule `json:"office_hours"`
}

// Campaign identifies the agent and caller number used for a run's calls.
type Campaign struct {
	ID    id.CampaignID `json:"id"`
	OrgID id.OrgID      `json:"org_id"`
	Name  string        `json:"name"`

	// AgentID is the telephony vendor's agent identity.
	AgentID string `json:"agent_id"`

	// FromNumber is the caller ID for outbound dispatches (E.164).
	FromNumber string `json:"from_number"`

	// Variables are campaign-level defaults merged under each row's
	// payload variables.
	Variables map[string]string `json:"variables,omitempty"`
}

// Directory is the read-only lookup for organizations and campaigns.
// A missing organization or campaign is run-fatal for the dispatch loop.
type Directory interface {
	GetOrganization(ctx context.Context, orgID id.OrgID) (*Organization, error)
	GetCampaign(ctx context.Context, campaignID id.CampaignID) (*Campaign, error)
}
