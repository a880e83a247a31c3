package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowEnforcesBurstPerKey(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	l := New(Config{RPS: 1, Burst: 2})
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("T1"))
	require.True(t, l.Allow("T1"))
	require.False(t, l.Allow("T1"))
	require.True(t, l.Allow("T2"), "keys have independent buckets")

	now = now.Add(time.Second)
	require.True(t, l.Allow("T1"))
}

func TestDisabledLimiterAlwaysAllows(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 100 {
		require.True(t, l.Allow("T1"))
	}
	require.Zero(t, l.Len())
}

func TestIdleKeysAreDropped(t *testing.T) {
	t.Parallel()

	now := time.Unix(1000, 0)
	l := New(Config{RPS: 1, Burst: 1, Idle: time.Minute})
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("T1"))
	require.True(t, l.Allow("T2"))
	require.Equal(t, 2, l.Len())

	now = now.Add(2 * time.Minute)
	require.True(t, l.Allow("T3"))
	require.Equal(t, 1, l.Len())
}
