package domain

import "time"

// PendingAuthResult is returned by a successful password check. The caller
// must complete the second factor with the pending token before any access
// is granted.
type PendingAuthResult struct {
	PendingToken string        `json:"pending_token"`
	ExpiresIn    time.Duration `json:"expires_in"`

	// SetupRequired is true on first login, when no second factor is enrolled
	// yet. Secret and ProvisioningURI are only populated in that case and are
	// shown to the user exactly once.
	SetupRequired   bool   `json:"setup_required"`
	Secret          string `json:"secret,omitempty"`
	ProvisioningURI string `json:"provisioning_uri,omitempty"`
}

// AccessResult is returned once all required factors have succeeded.
type AccessResult struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type,omitempty"` // typically "Bearer"
	ExpiresIn   time.Duration `json:"expires_in"`
	Role        Role          `json:"role"`
}

// IntegrityResult reports one record's verification outcome. Digest values are
// full, the caller is responsible for truncating before display or audit.
type IntegrityResult struct {
	RecordID         string
	PatientID        string
	State            IntegrityState
	ExpectedDigest   string
	CalculatedDigest string
	CorruptionReason string
}

// SweepReport aggregates a bulk integrity sweep.
type SweepReport struct {
	Total         int
	Valid         int
	Invalid       int
	Quarantined   int
	Unestablished int
	Results       []IntegrityResult
}
