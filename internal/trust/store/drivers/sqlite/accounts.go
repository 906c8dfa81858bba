package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/store"
)

type accountsRepo struct {
	q dbtx
}

const accountColumns = `id, identity, full_name, password_hash, role, status,
	mfa_enabled, mfa_secret, failed_attempts, lockout_until, last_login,
	created_at, updated_at`

func (r *accountsRepo) GetAccountByID(ctx context.Context, id string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

func (r *accountsRepo) GetAccountByIdentity(ctx context.Context, identity string) (domain.Account, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE identity = ?`, identity)
	return scanAccount(row)
}

func (r *accountsRepo) CreateAccount(ctx context.Context, a domain.Account) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO accounts (id, identity, full_name, password_hash, role, status, mfa_enabled, mfa_secret, failed_attempts, lockout_until, last_login)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Identity, a.FullName, a.PasswordHash, string(a.Role), string(a.Status),
		a.MFAEnabled, mapOptionalString(a.MFASecret), a.FailedAttempts,
		mapOptionalTime(a.LockoutUntil), mapOptionalTime(a.LastLogin),
	)
	return mapConstraint(err)
}

func (r *accountsRepo) UpdatePasswordHash(ctx context.Context, accountID string, newHash string) error {
	return r.exec(ctx, `
		UPDATE accounts SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		newHash, accountID)
}

func (r *accountsRepo) IncrementFailedAttempts(ctx context.Context, accountID string) (int, error) {
	// RETURNING makes the read-modify-write a single atomic statement.
	row := r.q.QueryRowContext(ctx, `
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
		RETURNING failed_attempts`, accountID)

	var attempts int
	if err := row.Scan(&attempts); err != nil {
		return 0, mapNotFound(err)
	}
	return attempts, nil
}

func (r *accountsRepo) SetLockout(ctx context.Context, accountID string, until time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts
		SET lockout_until = ?, status = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		until, string(domain.StatusLocked), accountID)
}

func (r *accountsRepo) ClearLockout(ctx context.Context, accountID string) error {
	return r.exec(ctx, `
		UPDATE accounts
		SET failed_attempts = 0,
		    lockout_until = NULL,
		    status = CASE status WHEN ? THEN ? ELSE status END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(domain.StatusLocked), string(domain.StatusActive), accountID)
}

func (r *accountsRepo) UpdateMFASecret(ctx context.Context, accountID string, secret string) error {
	return r.exec(ctx, `
		UPDATE accounts SET mfa_secret = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		secret, accountID)
}

func (r *accountsRepo) EnableMFA(ctx context.Context, accountID string) error {
	return r.exec(ctx, `
		UPDATE accounts SET mfa_enabled = 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		accountID)
}

func (r *accountsRepo) TouchLastLogin(ctx context.Context, accountID string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE accounts SET last_login = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		at, accountID)
}

func (r *accountsRepo) ListLockedExpired(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE status = ? AND lockout_until IS NOT NULL AND lockout_until <= ?`,
		string(domain.StatusLocked), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// exec runs an UPDATE that must hit exactly one row and maps "no row" to
// store.ErrNotFound.
func (r *accountsRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (domain.Account, error) {
	var (
		a            domain.Account
		role, status string
		mfaSecret    sql.NullString
		lockoutUntil sql.NullTime
		lastLogin    sql.NullTime
	)

	err := row.Scan(
		&a.ID, &a.Identity, &a.FullName, &a.PasswordHash, &role, &status,
		&a.MFAEnabled, &mfaSecret, &a.FailedAttempts, &lockoutUntil, &lastLogin,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Account{}, mapNotFound(err)
	}

	a.Role = domain.Role(role)
	a.Status = domain.Status(status)
	a.MFASecret = mapNullStringPtr(mfaSecret)
	a.LockoutUntil = mapNullTimePtr(lockoutUntil)
	a.LastLogin = mapNullTimePtr(lastLogin)
	return a, nil
}
