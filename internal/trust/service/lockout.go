package service

import (
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
)

// LockoutPolicy is the pure brute-force policy. It owns no state; the account
// row carries the counters so the decision survives restarts.
type LockoutPolicy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutPolicy locks an account for 15 minutes after 5 consecutive
// failed password attempts.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, Duration: 15 * time.Minute}
}

// ShouldLock reports whether the given consecutive failure count triggers a
// lockout.
func (p LockoutPolicy) ShouldLock(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// LockUntil computes the lockout deadline from the moment of the triggering
// failure.
func (p LockoutPolicy) LockUntil(now time.Time) time.Time {
	return now.Add(p.Duration)
}

// Expired reports whether an account's lockout deadline has passed and the
// account should be usable again.
func (p LockoutPolicy) Expired(a domain.Account, now time.Time) bool {
	return a.LockoutUntil != nil && !now.Before(*a.LockoutUntil)
}
