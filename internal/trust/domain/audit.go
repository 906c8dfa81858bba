package domain

import "time"

// EventKind is the closed enumeration of audit event kinds.
type EventKind string

const (
	// Authentication events
	EventLoginFailed       EventKind = "login_failed"
	EventLoginBlocked      EventKind = "login_blocked"
	EventLoginSuccess      EventKind = "login_success"
	EventPasswordVerified  EventKind = "password_verified"
	EventPasswordChanged   EventKind = "password_changed"
	EventAccountLocked     EventKind = "account_locked"
	EventAccountUnlocked   EventKind = "account_unlocked"
	EventRateLimitExceeded EventKind = "rate_limit_exceeded"

	// Second-factor events
	EventMFASetupInitiated     EventKind = "mfa_setup_initiated"
	EventMFASetupCompleted     EventKind = "mfa_setup_completed"
	EventMFAVerificationFailed EventKind = "mfa_verification_failed"

	// Integrity events
	EventIntegrityVerified  EventKind = "integrity_verified"
	EventIntegrityFailed    EventKind = "integrity_failed"
	EventRecordQuarantined  EventKind = "record_quarantined"
	EventQuarantineCleared  EventKind = "quarantine_cleared"
	EventDigestsRegenerated EventKind = "digests_regenerated"
)

// Valid reports whether k is one of the known event kinds.
func (k EventKind) Valid() bool {
	switch k {
	case EventLoginFailed, EventLoginBlocked, EventLoginSuccess,
		EventPasswordVerified, EventPasswordChanged,
		EventAccountLocked, EventAccountUnlocked, EventRateLimitExceeded,
		EventMFASetupInitiated, EventMFASetupCompleted, EventMFAVerificationFailed,
		EventIntegrityVerified, EventIntegrityFailed,
		EventRecordQuarantined, EventQuarantineCleared, EventDigestsRegenerated:
		return true
	}
	return false
}

// Event is one append-only audit record. No update or delete is ever exposed.
//
// Detail is a key-to-scalar map. Recognized keys per kind (v1):
//
//	login_failed:        reason, attempts
//	login_blocked:       locked_until
//	account_locked:      attempts, locked_until
//	mfa_setup_initiated: (none; secrets never appear here)
//	integrity_*:         record_id, expected_digest, calculated_digest (truncated prefixes)
//	record_quarantined:  record_id, reason
//	quarantine_cleared:  record_id, new_digest (truncated prefix)
//	rate_limit_exceeded: origin
type Event struct {
	ID        string
	Timestamp time.Time
	Kind      EventKind
	ActorID   *string // nil for pre-auth events
	SubjectID *string // affected account or patient, if any
	Origin    string  // network address of the caller
	Client    string  // client descriptor (user agent)
	Detail    map[string]string
}

// EventFilter narrows an audit query. Zero values mean "don't filter".
type EventFilter struct {
	Kind    EventKind
	ActorID string
	From    time.Time
	To      time.Time

	Limit  int
	Offset int
}

// EventPage is one page of audit query results.
type EventPage struct {
	Total  int
	Events []Event
}
