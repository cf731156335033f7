package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsUpToMaxThenBlocks(t *testing.T) {
	l := NewLimiter(3, time.Minute)
	require.True(t, l.IsAllowed("eth-rpc"))
	require.True(t, l.IsAllowed("eth-rpc"))
	require.True(t, l.IsAllowed("eth-rpc"))
	require.False(t, l.IsAllowed("eth-rpc"))
}

func TestLimiterTracksEndpointsIndependently(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	require.True(t, l.IsAllowed("eth-rpc"))
	require.True(t, l.IsAllowed("cosmos-rpc"))
	require.False(t, l.IsAllowed("eth-rpc"))
}

func TestLimiterRecoversAfterWindowElapses(t *testing.T) {
	l := NewLimiter(1, 20*time.Millisecond)
	require.True(t, l.IsAllowed("eth-rpc"))
	require.False(t, l.IsAllowed("eth-rpc"))

	time.Sleep(30 * time.Millisecond)
	require.True(t, l.IsAllowed("eth-rpc"))
}

func TestTimeUntilAllowedReportsRemainingWindow(t *testing.T) {
	l := NewLimiter(1, 50*time.Millisecond)
	require.True(t, l.IsAllowed("eth-rpc"))
	require.False(t, l.IsAllowed("eth-rpc"))

	wait := l.TimeUntilAllowed("eth-rpc")
	require.Greater(t, wait, time.Duration(0))
	require.LessOrEqual(t, wait, 50*time.Millisecond)
}

func TestHealthCheckerMarksUnhealthyAfterThreeFailures(t *testing.T) {
	h := NewHealthChecker()
	require.True(t, h.IsHealthy("ethereum-mainnet"), "unchecked chains default healthy")

	h.RecordFailure("ethereum-mainnet")
	h.RecordFailure("ethereum-mainnet")
	require.True(t, h.IsHealthy("ethereum-mainnet"))

	h.RecordFailure("ethereum-mainnet")
	require.False(t, h.IsHealthy("ethereum-mainnet"))
}

func TestHealthCheckerRecoversOnSuccess(t *testing.T) {
	h := NewHealthChecker()
	h.RecordFailure("noble-1")
	h.RecordFailure("noble-1")
	h.RecordFailure("noble-1")
	require.False(t, h.IsHealthy("noble-1"))

	h.RecordSuccess("noble-1", 42)
	require.True(t, h.IsHealthy("noble-1"))

	status, ok := h.GetHealth("noble-1")
	require.True(t, ok)
	require.Equal(t, 0, status.ConsecutiveFailures)
	require.Equal(t, int64(42), status.LatencyMS)
}

func TestConnectionManagerComposesLimiterAndHealth(t *testing.T) {
	cm := NewConnectionManager(2)
	require.True(t, cm.CanMakeRequest("eth-rpc"))
	require.True(t, cm.CanMakeRequest("eth-rpc"))
	require.False(t, cm.CanMakeRequest("eth-rpc"))

	cm.Health.RecordFailure("ethereum-mainnet")
	require.True(t, cm.Health.IsHealthy("ethereum-mainnet"))
}
