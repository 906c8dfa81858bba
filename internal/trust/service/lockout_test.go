package service

import (
	"testing"
	"time"

	"github.com/sironahealth/sirona/internal/trust/domain"
	"github.com/stretchr/testify/require"
)

func TestLockoutPolicyShouldLock(t *testing.T) {
	t.Parallel()

	p := DefaultLockoutPolicy()
	require.False(t, p.ShouldLock(0))
	require.False(t, p.ShouldLock(4))
	require.True(t, p.ShouldLock(5))
	require.True(t, p.ShouldLock(6))
}

func TestLockoutPolicyLockUntil(t *testing.T) {
	t.Parallel()

	p := DefaultLockoutPolicy()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	require.Equal(t, now.Add(15*time.Minute), p.LockUntil(now))
}

func TestLockoutPolicyExpired(t *testing.T) {
	t.Parallel()

	p := DefaultLockoutPolicy()
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	require.False(t, p.Expired(domain.Account{}, now))

	future := now.Add(time.Minute)
	require.False(t, p.Expired(domain.Account{LockoutUntil: &future}, now))

	past := now.Add(-time.Second)
	require.True(t, p.Expired(domain.Account{LockoutUntil: &past}, now))

	// The deadline itself counts as expired.
	require.True(t, p.Expired(domain.Account{LockoutUntil: &now}, now))
}
