package store

import (
	"context"
	"errors"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite) implement
// this. It exposes sub-repositories to keep concerns tidy and testable.
type Store interface {
	Accounts() Accounts
	Records() Records
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. This is the
	// recommended way to handle multi-step operations that must be atomic
	// (e.g., lockout accounting).
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Accounts interface {
	// GetAccountByID returns an account by id.
	GetAccountByID(ctx context.Context, id string) (domain.Account, error)

	// GetAccountByIdentity is used during login.
	GetAccountByIdentity(ctx context.Context, identity string) (domain.Account, error)

	// CreateAccount inserts a new account (id is provided by app via ULID).
	CreateAccount(ctx context.Context, a domain.Account) error

	// UpdatePasswordHash sets the password_hash (argon2) and bumps updated_at.
	UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error

	// IncrementFailedAttempts atomically bumps the failed-attempt counter and
	// returns the post-increment value. Two concurrent failed attempts must
	// never both observe the pre-increment count.
	IncrementFailedAttempts(ctx context.Context, accountID string) (int, error)

	// SetLockout sets the lockout deadline and flips status to locked.
	SetLockout(ctx context.Context, accountID string, until time.Time) error

	// ClearLockout zeroes the failed-attempt counter, clears the lockout
	// deadline, and restores status to active if it was locked.
	ClearLockout(ctx context.Context, accountID string) error

	// UpdateMFASecret sets the TOTP secret for an account.
	UpdateMFASecret(ctx context.Context, accountID string, secret string) error

	// EnableMFA marks the second factor as enabled.
	EnableMFA(ctx context.Context, accountID string) error

	// TouchLastLogin records a successful login time.
	TouchLastLogin(ctx context.Context, accountID string, at time.Time) error

	// ListLockedExpired returns ids of accounts whose lockout deadline has
	// passed but whose status still reads locked (housekeeping reconciliation).
	ListLockedExpired(ctx context.Context, now time.Time) ([]string, error)
}

type Records interface {
	// GetRecordByID returns a clinical record by id.
	GetRecordByID(ctx context.Context, id string) (domain.ClinicalRecord, error)

	// GetRecordByPatient returns the clinical record for a patient.
	GetRecordByPatient(ctx context.Context, patientID string) (domain.ClinicalRecord, error)

	// CreateRecord inserts a new clinical record with its initial digest.
	CreateRecord(ctx context.Context, r domain.ClinicalRecord) error

	// UpdateContent replaces the medical content and stores the digest
	// recomputed by the caller.
	UpdateContent(ctx context.Context, recordID string, content domain.MedicalContent, digest string) error

	// UpdateDigest stores a recomputed digest without touching content.
	UpdateDigest(ctx context.Context, recordID string, digest string) error

	// SetQuarantine flags the record as corrupted. The stored digest is left
	// untouched as evidence.
	SetQuarantine(ctx context.Context, recordID string, reason string, detectedAt time.Time) error

	// ClearQuarantine unsets the corruption flag and reason and stores the
	// fresh digest computed by the caller.
	ClearQuarantine(ctx context.Context, recordID string, newDigest string) error

	// ListRecords returns all clinical records ordered by id.
	ListRecords(ctx context.Context) ([]domain.ClinicalRecord, error)

	// ListQuarantined returns all records currently flagged as corrupted.
	ListQuarantined(ctx context.Context) ([]domain.ClinicalRecord, error)
}

type AuditEvents interface {
	// AppendEvent stores one audit event. There is deliberately no update or
	// delete: the audit trail is append-only.
	AppendEvent(ctx context.Context, e domain.Event) error

	// QueryEvents returns events matching the filter, newest first, plus the
	// total match count for pagination.
	QueryEvents(ctx context.Context, f domain.EventFilter) (domain.EventPage, error)
}
