package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestThrottleBurstThenDeny(t *testing.T) {
	t.Parallel()

	throttle := NewLoginThrottle(1, 2)

	require.True(t, throttle.Allow("203.0.113.1"))
	require.True(t, throttle.Allow("203.0.113.1"))
	require.False(t, throttle.Allow("203.0.113.1"))
}

func TestThrottleIsPerOrigin(t *testing.T) {
	t.Parallel()

	throttle := NewLoginThrottle(1, 1)

	require.True(t, throttle.Allow("203.0.113.1"))
	require.False(t, throttle.Allow("203.0.113.1"))
	require.True(t, throttle.Allow("203.0.113.2"))
}

func TestThrottleCleanup(t *testing.T) {
	t.Parallel()

	throttle := NewLoginThrottle(10, 10)
	throttle.Allow("203.0.113.1")
	throttle.Allow("203.0.113.2")

	// Nothing is idle yet.
	require.Zero(t, throttle.Cleanup(time.Minute))

	// With a zero idle allowance everything is evictable.
	require.Equal(t, 2, throttle.Cleanup(0))
	require.Zero(t, throttle.Cleanup(0))
}
