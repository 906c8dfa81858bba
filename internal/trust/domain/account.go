package domain

import "time"

// Role is the closed set of account roles. Consumers switch exhaustively on
// this so a new role cannot be added without updating every call site.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleDoctor        Role = "doctor"
	RolePatient       Role = "patient"
	RoleSecretary     Role = "secretary"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdministrator, RoleDoctor, RolePatient, RoleSecretary:
		return true
	}
	return false
}

// Status is the account lifecycle status.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusLocked   Status = "locked"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusLocked:
		return true
	}
	return false
}

// Account is the credential record for one identity.
//
// FailedAttempts is reset to zero whenever a password check succeeds or the
// lockout window expires. LockoutUntil is cleared exactly when it is reached
// or an administrator clears the account status.
type Account struct {
	ID           string
	Identity     string // login identity (email), unique
	FullName     string
	PasswordHash string // argon2id PHC encoded
	Role         Role
	Status       Status

	// Second factor. MFASecret stays nil until enrollment begins; MFAEnabled
	// flips only after the first successful code verification.
	MFAEnabled bool
	MFASecret  *string // base32 TOTP secret

	// Lockout accounting.
	FailedAttempts int
	LockoutUntil   *time.Time

	LastLogin *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LockedAt reports whether the account's lockout window covers the given time.
func (a Account) LockedAt(now time.Time) bool {
	return a.LockoutUntil != nil && a.LockoutUntil.After(now)
}
