package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"
	"unicode"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/sironahealth/sirona/internal/trust/metrics"
	"github.com/sironahealth/sirona/internal/trust/store"
	"github.com/sironahealth/sirona/pkg/cryptox"
	"github.com/sironahealth/sirona/pkg/idx"
	"github.com/sironahealth/sirona/pkg/jwtx"
	"github.com/sironahealth/sirona/pkg/slogx"
)

var (
	// ErrInvalidCredentials covers both unknown identities and wrong
	// passwords so callers cannot probe which identities exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers expired, malformed, wrong-kind and already
	// consumed pending tokens. All four look identical to the caller.
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrInvalidCode is a rejected one-time code on an otherwise valid
	// pending token.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrTooManyRequests signals the per-origin throttle tripped.
	ErrTooManyRequests = errors.New("too many requests")

	// ErrWeakPassword is returned by password strength validation, wrapped
	// with the specific complaint.
	ErrWeakPassword = errors.New("password does not meet requirements")

	// ErrNotAuthorized is an operation reserved for administrators invoked
	// by another role.
	ErrNotAuthorized = errors.New("operation requires administrator role")
)

// AccountLockedError reports a lockout that is still in force.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// AuthService runs the two-phase login state machine: password verification
// hands out a short-lived pending token, and a valid one-time code exchanges
// it for an access token. Brute-force accounting and the lockout window live
// here too.
type AuthService struct {
	Store    store.Store
	Hasher   *cryptox.Hasher
	Signer   *jwtx.Signer
	Verifier *jwtx.Verifier
	TOTP     *TOTPEngine
	Audit    AuditRecorder
	Throttle *LoginThrottle
	Metrics  *metrics.Metrics

	Lockout    LockoutPolicy
	Issuer     string
	PendingTTL time.Duration
	AccessTTL  time.Duration

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time

	usedOnce sync.Once
	used     *usedTokenSet
}

func (s *AuthService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *AuthService) usedSet() *usedTokenSet {
	s.usedOnce.Do(func() {
		s.used = newUsedTokenSet()
	})
	return s.used
}

func (s *AuthService) audit(ctx context.Context, e AuditEntry) {
	if s.Audit == nil {
		return
	}
	if err := s.Audit.Record(ctx, e); err != nil {
		slogx.FromContext(ctx).Error("failed to record audit event",
			slog.String("kind", string(e.Kind)),
			slog.Any("error", err),
		)
	}
}

func (s *AuthService) countLogin(outcome string) {
	if s.Metrics != nil {
		s.Metrics.Logins.WithLabelValues(outcome).Inc()
	}
}

// Authenticate verifies an identity/password pair and, on success, issues a
// pending token that must be completed with a one-time code. First-time
// callers additionally receive the shared secret and provisioning URI to
// enroll their authenticator.
//
// Failures are deliberately uniform: an unknown identity and a wrong password
// both return ErrInvalidCredentials.
func (s *AuthService) Authenticate(ctx context.Context, identity, password, origin, client string) (domain.PendingAuthResult, error) {
	if s.Throttle != nil && !s.Throttle.Allow(origin) {
		s.audit(ctx, AuditEntry{
			Kind:   domain.EventRateLimitExceeded,
			Origin: origin,
			Client: client,
			Detail: map[string]string{"identity": identity},
		})
		s.countLogin("throttled")
		return domain.PendingAuthResult{}, ErrTooManyRequests
	}

	now := s.now()

	acct, err := s.Store.Accounts().GetAccountByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.audit(ctx, AuditEntry{
				Kind:   domain.EventLoginFailed,
				Origin: origin,
				Client: client,
				Detail: map[string]string{"identity": identity, "reason": "unknown identity"},
			})
			s.countLogin("failed")
			return domain.PendingAuthResult{}, ErrInvalidCredentials
		}
		return domain.PendingAuthResult{}, fmt.Errorf("load account: %w", err)
	}

	if acct.LockedAt(now) {
		s.audit(ctx, AuditEntry{
			Kind:      domain.EventLoginBlocked,
			SubjectID: acct.ID,
			Origin:    origin,
			Client:    client,
			Detail:    map[string]string{"locked_until": acct.LockoutUntil.UTC().Format(time.RFC3339)},
		})
		s.countLogin("blocked")
		return domain.PendingAuthResult{}, &AccountLockedError{Until: *acct.LockoutUntil}
	}

	if s.Lockout.Expired(acct, now) {
		if err := s.Store.Accounts().ClearLockout(ctx, acct.ID); err != nil {
			return domain.PendingAuthResult{}, fmt.Errorf("clear expired lockout: %w", err)
		}
		acct.FailedAttempts = 0
		acct.LockoutUntil = nil
		if acct.Status == domain.StatusLocked {
			acct.Status = domain.StatusActive
		}
	}

	if err := s.Hasher.Verify(password, acct.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return domain.PendingAuthResult{}, fmt.Errorf("verify password: %w", err)
		}
		return domain.PendingAuthResult{}, s.recordFailedAttempt(ctx, acct, now, origin, client)
	}

	if acct.FailedAttempts > 0 || acct.LockoutUntil != nil || acct.Status == domain.StatusLocked {
		if err := s.Store.Accounts().ClearLockout(ctx, acct.ID); err != nil {
			return domain.PendingAuthResult{}, fmt.Errorf("reset failure counter: %w", err)
		}
	}

	s.audit(ctx, AuditEntry{
		Kind:      domain.EventPasswordVerified,
		ActorID:   acct.ID,
		SubjectID: acct.ID,
		Origin:    origin,
		Client:    client,
	})

	pending, err := s.mintToken(acct, jwtx.TokenUsePending, s.PendingTTL, now)
	if err != nil {
		return domain.PendingAuthResult{}, err
	}

	result := domain.PendingAuthResult{
		PendingToken: pending,
		ExpiresIn:    s.PendingTTL,
	}

	if acct.MFASecret == nil {
		secret, err := s.TOTP.GenerateSecret()
		if err != nil {
			return domain.PendingAuthResult{}, err
		}
		if err := s.Store.Accounts().UpdateMFASecret(ctx, acct.ID, secret); err != nil {
			return domain.PendingAuthResult{}, fmt.Errorf("store totp secret: %w", err)
		}
		uri, err := s.TOTP.ProvisioningURI(secret, acct.Identity)
		if err != nil {
			return domain.PendingAuthResult{}, err
		}

		s.audit(ctx, AuditEntry{
			Kind:      domain.EventMFASetupInitiated,
			ActorID:   acct.ID,
			SubjectID: acct.ID,
			Origin:    origin,
			Client:    client,
		})

		result.SetupRequired = true
		result.Secret = secret
		result.ProvisioningURI = uri
	}

	return result, nil
}

// recordFailedAttempt bumps the per-account failure counter atomically and
// locks the account when the policy threshold is crossed.
func (s *AuthService) recordFailedAttempt(ctx context.Context, acct domain.Account, now time.Time, origin, client string) error {
	var (
		attempts int
		locked   bool
		until    time.Time
	)
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		attempts, err = tx.Accounts().IncrementFailedAttempts(ctx, acct.ID)
		if err != nil {
			return err
		}
		if s.Lockout.ShouldLock(attempts) {
			until = s.Lockout.LockUntil(now)
			locked = true
			return tx.Accounts().SetLockout(ctx, acct.ID, until)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	if locked {
		s.audit(ctx, AuditEntry{
			Kind:      domain.EventAccountLocked,
			SubjectID: acct.ID,
			Origin:    origin,
			Client:    client,
			Detail: map[string]string{
				"failed_attempts": strconv.Itoa(attempts),
				"locked_until":    until.UTC().Format(time.RFC3339),
			},
		})
		s.countLogin("locked")
		if s.Metrics != nil {
			s.Metrics.AccountsLocked.Inc()
		}
		return &AccountLockedError{Until: until}
	}

	s.audit(ctx, AuditEntry{
		Kind:      domain.EventLoginFailed,
		SubjectID: acct.ID,
		Origin:    origin,
		Client:    client,
		Detail: map[string]string{
			"reason":          "wrong password",
			"failed_attempts": strconv.Itoa(attempts),
		},
	})
	s.countLogin("failed")
	return ErrInvalidCredentials
}

// CompleteSecondFactor exchanges a pending token plus a valid one-time code
// for an access token. A pending token works exactly once; replaying it fails
// the same way an expired one does.
func (s *AuthService) CompleteSecondFactor(ctx context.Context, pendingToken, code, origin, client string) (domain.AccessResult, error) {
	now := s.now()

	claims, err := s.Verifier.Verify(pendingToken)
	if err != nil {
		return domain.AccessResult{}, ErrInvalidToken
	}
	if err := claims.ValidateUse(jwtx.TokenUsePending); err != nil {
		return domain.AccessResult{}, ErrInvalidToken
	}
	if s.usedSet().Seen(claims.ID, now) {
		return domain.AccessResult{}, ErrInvalidToken
	}

	acct, err := s.Store.Accounts().GetAccountByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.AccessResult{}, ErrInvalidToken
		}
		return domain.AccessResult{}, fmt.Errorf("load account: %w", err)
	}
	if acct.MFASecret == nil {
		return domain.AccessResult{}, ErrInvalidToken
	}
	if acct.LockedAt(now) {
		return domain.AccessResult{}, &AccountLockedError{Until: *acct.LockoutUntil}
	}

	if !s.TOTP.VerifyAt(*acct.MFASecret, code, now) {
		s.audit(ctx, AuditEntry{
			Kind:      domain.EventMFAVerificationFailed,
			ActorID:   acct.ID,
			SubjectID: acct.ID,
			Origin:    origin,
			Client:    client,
		})
		s.countLogin("mfa_failed")
		return domain.AccessResult{}, ErrInvalidCode
	}

	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	} else {
		expiry = now.Add(s.PendingTTL)
	}
	s.usedSet().Consume(claims.ID, expiry)

	if !acct.MFAEnabled {
		if err := s.Store.Accounts().EnableMFA(ctx, acct.ID); err != nil {
			return domain.AccessResult{}, fmt.Errorf("enable mfa: %w", err)
		}
		s.audit(ctx, AuditEntry{
			Kind:      domain.EventMFASetupCompleted,
			ActorID:   acct.ID,
			SubjectID: acct.ID,
			Origin:    origin,
			Client:    client,
		})
	}

	if err := s.Store.Accounts().TouchLastLogin(ctx, acct.ID, now); err != nil {
		return domain.AccessResult{}, fmt.Errorf("touch last login: %w", err)
	}

	access, err := s.mintToken(acct, jwtx.TokenUseAccess, s.AccessTTL, now)
	if err != nil {
		return domain.AccessResult{}, err
	}

	s.audit(ctx, AuditEntry{
		Kind:      domain.EventLoginSuccess,
		ActorID:   acct.ID,
		SubjectID: acct.ID,
		Origin:    origin,
		Client:    client,
	})
	s.countLogin("success")

	return domain.AccessResult{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   s.AccessTTL,
		Role:        acct.Role,
	}, nil
}

// VerifyAccess parses and validates an access token, returning its claims.
// Pending tokens are rejected.
func (s *AuthService) VerifyAccess(token string) (jwtx.Claims, error) {
	claims, err := s.Verifier.Verify(token)
	if err != nil {
		return jwtx.Claims{}, ErrInvalidToken
	}
	if err := claims.ValidateUse(jwtx.TokenUseAccess); err != nil {
		return jwtx.Claims{}, ErrInvalidToken
	}
	return claims, nil
}

// CreateAccount registers a new account with a strength-checked password.
func (s *AuthService) CreateAccount(ctx context.Context, identity, fullName, password string, role domain.Role) (domain.Account, error) {
	if !role.Valid() {
		return domain.Account{}, fmt.Errorf("invalid role %q", role)
	}
	if err := ValidatePasswordStrength(password); err != nil {
		return domain.Account{}, err
	}

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		return domain.Account{}, err
	}

	now := s.now()
	acct := domain.Account{
		ID:           idx.New().String(),
		Identity:     identity,
		FullName:     fullName,
		PasswordHash: hash,
		Role:         role,
		Status:       domain.StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Store.Accounts().CreateAccount(ctx, acct); err != nil {
		return domain.Account{}, fmt.Errorf("create account: %w", err)
	}
	return acct, nil
}

// ChangePassword verifies the current password and replaces it with a
// strength-checked new one.
func (s *AuthService) ChangePassword(ctx context.Context, accountID, current, next, origin, client string) error {
	acct, err := s.Store.Accounts().GetAccountByID(ctx, accountID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}

	if err := s.Hasher.Verify(current, acct.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			s.audit(ctx, AuditEntry{
				Kind:      domain.EventLoginFailed,
				ActorID:   acct.ID,
				SubjectID: acct.ID,
				Origin:    origin,
				Client:    client,
				Detail:    map[string]string{"reason": "wrong password on change"},
			})
			return ErrInvalidCredentials
		}
		return fmt.Errorf("verify password: %w", err)
	}

	if err := ValidatePasswordStrength(next); err != nil {
		return err
	}

	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return err
	}
	if err := s.Store.Accounts().UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	s.audit(ctx, AuditEntry{
		Kind:      domain.EventPasswordChanged,
		ActorID:   acct.ID,
		SubjectID: acct.ID,
		Origin:    origin,
		Client:    client,
	})
	return nil
}

// UnlockAccount clears a lockout ahead of its deadline. Administrators only.
func (s *AuthService) UnlockAccount(ctx context.Context, actor domain.Account, accountID, origin, client string) error {
	if actor.Role != domain.RoleAdministrator {
		return ErrNotAuthorized
	}
	if err := s.Store.Accounts().ClearLockout(ctx, accountID); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}

	s.audit(ctx, AuditEntry{
		Kind:      domain.EventAccountUnlocked,
		ActorID:   actor.ID,
		SubjectID: accountID,
		Origin:    origin,
		Client:    client,
		Detail:    map[string]string{"reason": "manual unlock"},
	})
	return nil
}

func (s *AuthService) mintToken(acct domain.Account, use jwtx.TokenUse, ttl time.Duration, now time.Time) (string, error) {
	claims := jwtx.NewClaims(acct.ID, acct.Identity, string(acct.Role), use, ttl, s.Issuer, now)
	token, err := s.Signer.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", use, err)
	}
	return token, nil
}

// ValidatePasswordStrength enforces the password policy: at least 12
// characters with upper case, lower case, a digit and a special character.
func ValidatePasswordStrength(password string) error {
	if len(password) < 12 {
		return fmt.Errorf("%w: minimum length is 12 characters", ErrWeakPassword)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		default:
			special = true
		}
	}

	switch {
	case !upper:
		return fmt.Errorf("%w: missing an upper case letter", ErrWeakPassword)
	case !lower:
		return fmt.Errorf("%w: missing a lower case letter", ErrWeakPassword)
	case !digit:
		return fmt.Errorf("%w: missing a digit", ErrWeakPassword)
	case !special:
		return fmt.Errorf("%w: missing a special character", ErrWeakPassword)
	}
	return nil
}

// usedTokenSet remembers consumed pending token IDs until their natural
// expiry so a pending token cannot be exchanged twice.
type usedTokenSet struct {
	mu   sync.Mutex
	jtis map[string]time.Time
}

func newUsedTokenSet() *usedTokenSet {
	return &usedTokenSet{jtis: make(map[string]time.Time)}
}

// Seen reports whether the token ID has already been consumed, pruning
// entries whose tokens have expired on their own.
func (u *usedTokenSet) Seen(jti string, now time.Time) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	for id, exp := range u.jtis {
		if now.After(exp) {
			delete(u.jtis, id)
		}
	}
	_, ok := u.jtis[jti]
	return ok
}

// Consume marks a token ID as spent until the given expiry.
func (u *usedTokenSet) Consume(jti string, expiry time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.jtis[jti] = expiry
}
