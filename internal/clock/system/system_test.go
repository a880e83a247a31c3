package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNowIsUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()

	require.Equal(t, time.UTC, got.Location())
	require.True(t, got.After(before))
}

func TestNowTruncatesToStorePrecision(t *testing.T) {
	t.Parallel()

	local := time.FixedZone("BRT", -3*60*60)
	clk := &Clock{now: func() time.Time {
		return time.Date(2025, 3, 4, 7, 0, 0, 123456789, local)
	}}

	got := clk.Now()
	require.Equal(t, time.Date(2025, 3, 4, 10, 0, 0, 123456000, time.UTC), got)
	require.Zero(t, got.Nanosecond()%int(Precision))
}
