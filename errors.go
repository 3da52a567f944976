package dialrun

import "errors"

var (
	// Store errors.
	ErrNoStore         = errors.New("dialrun: no store configured")
	ErrStoreClosed     = errors.New("dialrun: store closed")
	ErrMigrationFailed = errors.New("dialrun: migration failed")

	// Not found errors.
	ErrRunNotFound      = errors.New("dialrun: run not found")
	ErrRowNotFound      = errors.New("dialrun: row not found")
	ErrCallNotFound     = errors.New("dialrun: call not found")
	ErrOrgNotFound      = errors.New("dialrun: organization not found")
	ErrCampaignNotFound = errors.New("dialrun: campaign not found")

	// Conflict errors.
	ErrRunAlreadyExists  = errors.New("dialrun: run already exists")
	ErrRowAlreadyExists  = errors.New("dialrun: row already exists")
	ErrCallAlreadyExists = errors.New("dialrun: call already exists")
	ErrMetricsConflict   = errors.New("dialrun: metrics updated concurrently")

	// State errors.
	ErrInvalidState       = errors.New("dialrun: invalid state transition")
	ErrMaxRetriesExceeded = errors.New("dialrun: max retries exceeded")
	ErrMissingPhoneNumber = errors.New("dialrun: row has no phone number")
)
